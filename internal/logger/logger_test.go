package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevelPriority(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected int
	}{
		{Debug, 0},
		{Info, 1},
		{Warn, 2},
		{Error, 3},
		{LogLevel("unknown"), 1}, // defaults to Info priority
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			got := levelPriority(tt.level)
			if got != tt.expected {
				t.Errorf("levelPriority(%s) = %d, want %d", tt.level, got, tt.expected)
			}
		})
	}
}

func TestLevelPriority_Ordering(t *testing.T) {
	if levelPriority(Debug) >= levelPriority(Info) {
		t.Error("Debug should be lower priority than Info")
	}
	if levelPriority(Info) >= levelPriority(Warn) {
		t.Error("Info should be lower priority than Warn")
	}
	if levelPriority(Warn) >= levelPriority(Error) {
		t.Error("Warn should be lower priority than Error")
	}
}

func TestSetLevel(t *testing.T) {
	original := minLevel
	defer func() { minLevel = original }()

	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", Debug},
		{"info", Info},
		{"warn", Warn},
		{"error", Error},
		{"invalid", Info}, // defaults to Info
		{"DEBUG", Info},   // case sensitive, falls back to Info
		{"", Info},        // empty falls back to Info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			SetLevel(tt.input)
			if minLevel != tt.expected {
				t.Errorf("SetLevel(%q): minLevel = %s, want %s", tt.input, minLevel, tt.expected)
			}
		})
	}
}

func TestInit_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	logDir := filepath.Join(tmpDir, "subdir", "logs")

	Init(logDir)
	defer func() {
		if fileLogger != nil {
			_ = fileLogger.Close()
			fileLogger = nil
		}
	}()

	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		t.Error("Init() should create log directory")
	}
}

func TestGetLogDir(t *testing.T) {
	original := fileLogger
	fileLogger = nil
	defer func() { fileLogger = original }()

	if dir := GetLogDir(); dir != "" {
		t.Errorf("GetLogDir() = %q, want empty string when not initialized", dir)
	}

	tmpDir := t.TempDir()
	Init(tmpDir)
	defer func() {
		if fileLogger != nil {
			_ = fileLogger.Close()
			fileLogger = nil
		}
	}()

	if dir := GetLogDir(); dir != tmpDir {
		t.Errorf("GetLogDir() = %q, want %q", dir, tmpDir)
	}
}

func TestLog_WritesToFile(t *testing.T) {
	tmpDir := t.TempDir()
	originalLevel := minLevel
	originalFileLogger := fileLogger
	defer func() {
		minLevel = originalLevel
		if fileLogger != nil {
			_ = fileLogger.Close()
		}
		fileLogger = originalFileLogger
	}()

	minLevel = Debug
	Init(tmpDir)

	uniqueMsg := "unique-test-message-12345"
	Infof("%s", uniqueMsg)

	// Force flush by closing
	if fileLogger != nil {
		_ = fileLogger.Close()
	}

	content, err := os.ReadFile(filepath.Join(tmpDir, "examscan.log"))
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), uniqueMsg) {
		t.Error("Log file should contain the logged message")
	}
}
