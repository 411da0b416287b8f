package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAnthropicGenerateResponse(t *testing.T) {
	var gotReq map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Errorf("missing api key header")
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"content":[{"type":"text","text":"{\"actions\":[]}"}],
			"stop_reason":"end_turn",
			"usage":{"input_tokens":120,"output_tokens":30}
		}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("sk-test", WithAnthropicBaseURL(srv.URL))

	resp, err := p.GenerateResponse(context.Background(), Request{
		Prompt: "explore the app",
		Image:  &ImageAttachment{MimeType: "image/jpeg", Data: "aGVsbG8="},
	})
	if err != nil {
		t.Fatalf("GenerateResponse: %v", err)
	}
	if resp.Text != `{"actions":[]}` {
		t.Errorf("text = %q", resp.Text)
	}
	if resp.Usage.TotalTokens != 150 {
		t.Errorf("total tokens = %d, want 150", resp.Usage.TotalTokens)
	}

	msgs := gotReq["messages"].([]interface{})
	content := msgs[0].(map[string]interface{})["content"].([]interface{})
	if len(content) != 2 {
		t.Fatalf("content blocks = %d, want image + text", len(content))
	}
	if content[0].(map[string]interface{})["type"] != "image" {
		t.Error("image block must come first")
	}
}

func TestAnthropicHTTPErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"prompt too long"}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("sk-test", WithAnthropicBaseURL(srv.URL))
	_, err := p.GenerateResponse(context.Background(), Request{Prompt: "x"})
	if err == nil {
		t.Fatal("want error")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("err = %v, want status in message", err)
	}
}

func TestGuardDropsOversizedImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		json.NewDecoder(r.Body).Decode(&req)
		msgs := req["messages"].([]interface{})
		content := msgs[0].(map[string]interface{})["content"].([]interface{})
		if len(content) != 1 {
			t.Errorf("image should have been dropped, got %d blocks", len(content))
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"ok"}],"usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	inner := NewAnthropicProvider("sk-test", WithAnthropicBaseURL(srv.URL))
	p := Guard(inner, 0)

	huge := strings.Repeat("A", 8*1024*1024) // decodes past the 5 MB limit
	resp, err := p.GenerateResponse(context.Background(), Request{
		Prompt: "explore",
		Image:  &ImageAttachment{MimeType: "image/jpeg", Data: huge},
	})
	if err != nil {
		t.Fatalf("GenerateResponse: %v", err)
	}
	if !resp.ImageDropped {
		t.Error("ImageDropped not reported")
	}
}
