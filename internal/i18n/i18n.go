// Package i18n supplies the dashboard's user-facing strings in the two
// languages the original tool shipped (SPEC_FULL §4.1), selected by the
// config file's ui.language key.
package i18n

import "fmt"

// Language is a supported dashboard display language.
type Language string

const (
	En Language = "en"
	Zh Language = "zh"
)

// ParseLanguage normalizes a config or CLI value to a known Language,
// defaulting to English for anything unrecognised.
func ParseLanguage(s string) Language {
	switch s {
	case "zh", "chinese", "中文":
		return Zh
	default:
		return En
	}
}

// Strings is a resolved set of dashboard labels for one language.
type Strings struct {
	lang Language
}

// For resolves the label set for a language.
func For(lang Language) Strings {
	return Strings{lang: lang}
}

func (s Strings) AppTitle() string {
	if s.lang == Zh {
		return "relaywatch - 自动端点切换"
	}
	return "relaywatch - automatic endpoint switching"
}

func (s Strings) StatusMonitoring() string {
	if s.lang == Zh {
		return "正在监控"
	}
	return "Monitoring"
}

func (s Strings) StatusPaused() string {
	if s.lang == Zh {
		return "健康检查已暂停"
	}
	return "Health checks paused"
}

func (s Strings) BtnQuit() string {
	if s.lang == Zh {
		return "[Q] 退出"
	}
	return "[Q] Quit"
}

func (s Strings) BtnManualCheck() string {
	if s.lang == Zh {
		return "[R] 手动检查"
	}
	return "[R] Manual Check"
}

func (s Strings) BtnPause() string {
	if s.lang == Zh {
		return "[P] 暂停"
	}
	return "[P] Pause"
}

func (s Strings) BtnResume() string {
	if s.lang == Zh {
		return "[P] 恢复"
	}
	return "[P] Resume"
}

func (s Strings) BtnToManual() string {
	if s.lang == Zh {
		return "[M] 手动模式"
	}
	return "[M] Manual Mode"
}

func (s Strings) BtnToAuto() string {
	if s.lang == Zh {
		return "[M] 自动模式"
	}
	return "[M] Auto Mode"
}

func (s Strings) ModeAuto() string {
	if s.lang == Zh {
		return "自动"
	}
	return "Auto"
}

func (s Strings) ModeManual(index int) string {
	if s.lang == Zh {
		return fmt.Sprintf("手动[%d]", index+1)
	}
	return fmt.Sprintf("Manual[%d]", index+1)
}

func (s Strings) StatusChecking() string {
	if s.lang == Zh {
		return "检查中..."
	}
	return "Checking..."
}

func (s Strings) HealthReady() string {
	if s.lang == Zh {
		return "就绪"
	}
	return "Ready"
}

func (s Strings) HealthNext(seconds int64) string {
	if s.lang == Zh {
		return fmt.Sprintf("下次: %ds", seconds)
	}
	return fmt.Sprintf("Next: %ds", seconds)
}

func (s Strings) LoadHigh(count int) string {
	if s.lang == Zh {
		return fmt.Sprintf("高负载: %d", count)
	}
	return fmt.Sprintf("High Load: %d", count)
}

func (s Strings) LoadMedium(count int) string {
	if s.lang == Zh {
		return fmt.Sprintf("中负载: %d", count)
	}
	return fmt.Sprintf("Med Load: %d", count)
}

func (s Strings) LoadLow(count int) string {
	if s.lang == Zh {
		return fmt.Sprintf("低负载: %d", count)
	}
	return fmt.Sprintf("Low Load: %d", count)
}

func (s Strings) LoadIdle() string {
	if s.lang == Zh {
		return "空闲"
	}
	return "Idle"
}

func (s Strings) SwitchNewConnection() string {
	if s.lang == Zh {
		return "新连接"
	}
	return "New Connection"
}

func (s Strings) PausedSubtitle() string {
	if s.lang == Zh {
		return "健康检查已暂停 - 连接监控继续运行，自动切换已停止"
	}
	return "Health checks paused - connection monitoring continues, auto switching stopped"
}
