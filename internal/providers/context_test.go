package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func chatServer(content string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		resp := chatResponse{}
		resp.Choices = append(resp.Choices, struct {
			Message chatMessage `json:"message"`
		}{Message: chatMessage{Role: "assistant", Content: content}})
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestContextProvider(url string) *HTTPContextProvider {
	return NewHTTPContextProvider(url, "ai-key", "test-model", 1, 5*time.Second, zap.NewNop())
}

func TestGenerateContextsParsesBatch(t *testing.T) {
	payload := `{"contexts":{
		"house":[
			{"pronunciation":"KAH-sah","meaning":"a dwelling","example":"Mi casa es grande."},
			{"meaning":"a home","example":"Vivo en una casa azul."},
			{"meaning":"missing example field","example":""}
		],
		"unrequested":[{"meaning":"x","example":"y"}]
	}}`
	srv := chatServer(payload)
	defer srv.Close()

	p := newTestContextProvider(srv.URL)
	got, err := p.GenerateContexts(context.Background(),
		map[string]string{"house": "casa"}, "es")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	variations, ok := got["house"]
	if !ok {
		t.Fatalf("expected house contexts, got %v", got)
	}
	// The variation without an example is dropped, not fatal.
	if len(variations) != 2 {
		t.Errorf("malformed variation should be dropped independently, got %+v", variations)
	}
	for _, v := range variations {
		if v.Meaning == "" || v.Example == "" {
			t.Errorf("incomplete variation slipped through: %+v", v)
		}
	}
	if _, ok := got["unrequested"]; ok {
		t.Error("words the caller never asked about must be discarded")
	}
}

func TestGenerateContextsNormalizesWordKeys(t *testing.T) {
	srv := chatServer(`{"contexts":{"House ":[{"meaning":"a dwelling","example":"La casa."}]}}`)
	defer srv.Close()

	p := newTestContextProvider(srv.URL)
	got, err := p.GenerateContexts(context.Background(),
		map[string]string{"house": "casa"}, "es")
	if err != nil {
		t.Fatal(err)
	}
	if len(got["house"]) != 1 {
		t.Errorf("casing and whitespace in echoed keys should be normalized, got %v", got)
	}
}

func TestGenerateContextsMalformedResponse(t *testing.T) {
	srv := chatServer("Sure! Here are your contexts: ...")
	defer srv.Close()

	p := newTestContextProvider(srv.URL)
	if _, err := p.GenerateContexts(context.Background(),
		map[string]string{"house": "casa"}, "es"); err == nil {
		t.Fatal("prose instead of JSON must be an error")
	}
}

func TestGenerateContextsEmptyInput(t *testing.T) {
	p := newTestContextProvider("http://unreachable.invalid")
	got, err := p.GenerateContexts(context.Background(), nil, "es")
	if err != nil || len(got) != 0 {
		t.Errorf("empty input should short-circuit, got %v %v", got, err)
	}
}

func TestGenerateOne(t *testing.T) {
	srv := chatServer(`{"pronunciation":"KAH-sah","meaning":"a dwelling","example":"Mi casa es grande."}`)
	defer srv.Close()

	p := newTestContextProvider(srv.URL)
	v, err := p.GenerateOne(context.Background(), "house", "casa", "es", "I bought a house.")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if v.Meaning != "a dwelling" || v.Example != "Mi casa es grande." {
		t.Errorf("unexpected variation: %+v", v)
	}
}

func TestGenerateOneRejectsIncompleteVariation(t *testing.T) {
	srv := chatServer(`{"pronunciation":"KAH-sah","meaning":"","example":""}`)
	defer srv.Close()

	p := newTestContextProvider(srv.URL)
	if _, err := p.GenerateOne(context.Background(), "house", "casa", "es", ""); err == nil {
		t.Fatal("variation without meaning and example must be rejected")
	}
}

func TestBasicContextNeverEmpty(t *testing.T) {
	for _, lang := range []string{"es", "fr", "de", "ja", "xx"} {
		v := BasicContext("house", "casa", lang)
		if v.Meaning == "" || v.Example == "" || v.Pronunciation == "" {
			t.Errorf("basic context for %s has empty fields: %+v", lang, v)
		}
	}

	v := BasicContext("house", "casa", "es")
	if !strings.Contains(v.Example, "casa") {
		t.Errorf("example should carry the translation: %q", v.Example)
	}
}

func TestApproximatePronunciation(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"casa", "ca-sa"},
		{"", ""},
		{"a", "a"},
	}
	for _, tt := range tests {
		if got := ApproximatePronunciation(tt.in); got != tt.want {
			t.Errorf("ApproximatePronunciation(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
