package device

import (
	"testing"

	"github.com/wfunc/dpc3000/internal/errors"
)

// TestParseMode 测试工作模式解析
func TestParseMode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Mode
		wantErr bool
	}{
		{name: "控制模式", input: "Control", want: ModeControl},
		{name: "测量模式", input: "Measure", want: ModeMeasure},
		{name: "排气模式", input: "Vent", want: ModeVent},
		{name: "带首尾空白", input: " Control\t", want: ModeControl},
		{name: "大小写不匹配", input: "control", wantErr: true},
		{name: "未知模式", input: "Standby", wantErr: true},
		{name: "空字符串", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMode(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseMode(%q) error = nil, want error", tt.input)
				}
				if !errors.Is(err, errors.ErrModeInvalid) {
					t.Errorf("ParseMode(%q) code = %d, want %d",
						tt.input, errors.GetCode(err), errors.ErrModeInvalid)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMode(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestModeValid 测试模式校验
func TestModeValid(t *testing.T) {
	for _, m := range Modes {
		if !m.Valid() {
			t.Errorf("Mode(%q).Valid() = false, want true", m)
		}
	}
	if Mode("Stop").Valid() {
		t.Error("Mode(\"Stop\").Valid() = true, want false")
	}
}

// TestParsePressure 测试压力应答解析
func TestParsePressure(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    float64
		wantErr bool
	}{
		{name: "点号小数", input: "1.23", want: 1.23},
		{name: "逗号小数", input: "1,23", want: 1.23},
		{name: "负压", input: "-0.5", want: -0.5},
		{name: "整数", input: "2", want: 2},
		{name: "带空白", input: " 0.997 ", want: 0.997},
		{name: "非数字", input: "ERR", wantErr: true},
		{name: "空应答", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePressure(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parsePressure(%q) error = nil, want error", tt.input)
				}
				if !errors.Is(err, errors.ErrInvalidResponse) {
					t.Errorf("parsePressure(%q) code = %d, want %d",
						tt.input, errors.GetCode(err), errors.ErrInvalidResponse)
				}
				return
			}
			if err != nil {
				t.Fatalf("parsePressure(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("parsePressure(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// TestParseStatus 测试状态应答解析
func TestParseStatus(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		base    int
		want    Status
		wantErr bool
	}{
		{name: "十进制单一位", input: "8", base: 10, want: StatusVentOpen},
		{name: "十进制组合位", input: "9", base: 10, want: StatusInTolerance | StatusVentOpen},
		{name: "十进制零", input: "0", base: 10, want: 0},
		{name: "二进制形式", input: "1001", base: 2, want: StatusInTolerance | StatusVentOpen},
		{name: "二进制停止位", input: "10000000", base: 2, want: StatusStopped},
		{name: "超出字节范围", input: "256", base: 10, wantErr: true},
		{name: "负值", input: "-1", base: 10, wantErr: true},
		{name: "非数字", input: "xx", base: 10, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseStatus(tt.input, tt.base)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseStatus(%q, %d) error = nil, want error", tt.input, tt.base)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseStatus(%q, %d) error = %v", tt.input, tt.base, err)
			}
			if got != tt.want {
				t.Errorf("parseStatus(%q, %d) = %d, want %d", tt.input, tt.base, got, tt.want)
			}
		})
	}
}

// TestFaultTokens 测试设备故障码识别
func TestFaultTokens(t *testing.T) {
	tokens := []string{"CER", "PER", "VER", "TER", "FER", "SER",
		"ErrUnknCmd", "ErrFunction", "ErrParameter"}

	for _, token := range tokens {
		if !IsFaultToken(token) {
			t.Errorf("IsFaultToken(%q) = false, want true", token)
		}
		if FaultDescription(token) == "" {
			t.Errorf("FaultDescription(%q) = \"\", want non-empty", token)
		}
	}

	// 带行内空白的故障码同样要识别
	if !IsFaultToken(" SER ") {
		t.Error("IsFaultToken(\" SER \") = false, want true")
	}

	for _, s := range []string{"OK", "1.23", "Control", ""} {
		if IsFaultToken(s) {
			t.Errorf("IsFaultToken(%q) = true, want false", s)
		}
	}
}

// TestNewFaultError 测试故障错误构造
func TestNewFaultError(t *testing.T) {
	err := newFaultError("SER\r")

	if !errors.Is(err, errors.ErrDeviceFault) {
		t.Errorf("code = %d, want %d", errors.GetCode(err), errors.ErrDeviceFault)
	}
	if !errors.IsProtocolError(err) {
		t.Error("IsProtocolError() = false, want true")
	}
	if err.Details != "Command Error" {
		t.Errorf("Details = %q, want %q", err.Details, "Command Error")
	}
}

// TestFormatSetpoint 测试设定值格式化
func TestFormatSetpoint(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{1, "1"},
		{0.5, "0.5"},
		{1.25, "1.25"},
		{-0.1, "-0.1"},
	}

	for _, tt := range tests {
		if got := formatSetpoint(tt.in); got != tt.want {
			t.Errorf("formatSetpoint(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
