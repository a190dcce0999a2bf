package genai

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// Debug mode writes one JSON file per call.
func TestDebugLogging(t *testing.T) {
	tempDir := t.TempDir()

	client := &Client{
		chat:        &mockChatService{resp: completion("Test response")},
		model:       "test-model",
		temperature: 0.7,
		maxTokens:   100,
		retries:     1,
		debugMode:   true,
		stateDir:    tempDir,
	}

	_, err := client.Generate(context.Background(), GenerateRequest{System: "System prompt", Prompt: "User prompt"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	// Check if debug directory was created
	debugDir := filepath.Join(tempDir, "debug")
	if _, err := os.Stat(debugDir); os.IsNotExist(err) {
		t.Fatalf("Debug directory was not created: %s", debugDir)
	}

	files, err := os.ReadDir(debugDir)
	if err != nil {
		t.Fatalf("Failed to read debug directory: %v", err)
	}

	if len(files) == 0 {
		t.Fatalf("No debug files were created")
	}

	// Read and verify the debug file content
	debugFile := filepath.Join(debugDir, files[0].Name())
	content, err := os.ReadFile(debugFile)
	if err != nil {
		t.Fatalf("Failed to read debug file: %v", err)
	}

	var logEntry map[string]interface{}
	if err := json.Unmarshal(content, &logEntry); err != nil {
		t.Fatalf("Failed to unmarshal debug log: %v", err)
	}

	// Verify required fields are present
	requiredFields := []string{"timestamp", "method", "model", "params", "response"}
	for _, field := range requiredFields {
		if _, exists := logEntry[field]; !exists {
			t.Errorf("Required field '%s' missing from debug log", field)
		}
	}

	if logEntry["method"] != "Generate" {
		t.Errorf("Expected method 'Generate', got %v", logEntry["method"])
	}

	if logEntry["model"] != "test-model" {
		t.Errorf("Expected model 'test-model', got %v", logEntry["model"])
	}
}

func TestDebugLoggingDisabled(t *testing.T) {
	tempDir := t.TempDir()

	client := &Client{
		chat:        &mockChatService{resp: completion("Test response")},
		model:       "test-model",
		temperature: 0.7,
		maxTokens:   100,
		retries:     1,
		debugMode:   false,
		stateDir:    tempDir,
	}

	_, err := client.Generate(context.Background(), GenerateRequest{System: "System prompt", Prompt: "User prompt"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	// Check that no debug directory was created
	debugDir := filepath.Join(tempDir, "debug")
	if _, err := os.Stat(debugDir); !os.IsNotExist(err) {
		t.Errorf("Debug directory should not be created when debug mode is disabled")
	}
}
