package device

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeDriver is a minimal in-memory WebDriver server.
type fakeDriver struct {
	mu sync.Mutex

	sessions      int
	activeSession string
	killed        bool // active session reported invalid

	screenshotB64 string
	secureScreen  bool

	elements map[string]map[string]string // using -> value -> element id

	actionBodies []string
	scripts      []string
	typedText    []string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		screenshotB64: base64.StdEncoding.EncodeToString(make([]byte, 4096)),
		elements:      map[string]map[string]string{},
	}
}

func (f *fakeDriver) addElement(using, value, id string) {
	if f.elements[using] == nil {
		f.elements[using] = map[string]string{}
	}
	f.elements[using][value] = id
}

func (f *fakeDriver) handler() http.Handler {
	mux := http.NewServeMux()

	write := func(w http.ResponseWriter, status int, value interface{}) {
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]interface{}{"value": value})
	}
	invalid := func(w http.ResponseWriter) {
		write(w, http.StatusNotFound, map[string]string{
			"error": "invalid session id", "message": "session is either terminated or not started",
		})
	}

	mux.HandleFunc("POST /session", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.sessions++
		f.activeSession = fmt.Sprintf("sess-%d", f.sessions)
		f.killed = false
		id := f.activeSession
		f.mu.Unlock()
		write(w, http.StatusOK, map[string]interface{}{
			"sessionId":    id,
			"capabilities": map[string]string{},
		})
	})

	mux.HandleFunc("/session/{id}/{rest...}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.PathValue("id") != f.activeSession || f.killed {
			invalid(w)
			return
		}

		switch rest := r.PathValue("rest"); {
		case rest == "window/rect":
			write(w, http.StatusOK, map[string]int{"width": 1080, "height": 2340, "x": 0, "y": 0})
		case rest == "timeouts":
			write(w, http.StatusOK, nil)
		case rest == "source":
			write(w, http.StatusOK, "<hierarchy/>")
		case rest == "screenshot":
			if f.secureScreen {
				write(w, http.StatusInternalServerError, map[string]string{
					"error": "unknown error", "message": "unable to capture screen: secure content",
				})
				return
			}
			write(w, http.StatusOK, f.screenshotB64)
		case rest == "element":
			var req struct{ Using, Value string }
			json.NewDecoder(r.Body).Decode(&req)
			if id, ok := f.elements[req.Using][req.Value]; ok {
				write(w, http.StatusOK, map[string]string{"element-6066-11e4-a52e-4f735466cecf": id})
				return
			}
			write(w, http.StatusNotFound, map[string]string{
				"error": "no such element", "message": "element not found",
			})
		case rest == "actions":
			var raw json.RawMessage
			json.NewDecoder(r.Body).Decode(&raw)
			f.actionBodies = append(f.actionBodies, string(raw))
			write(w, http.StatusOK, nil)
		case rest == "execute/sync":
			var req struct {
				Script string        `json:"script"`
				Args   []interface{} `json:"args"`
			}
			json.NewDecoder(r.Body).Decode(&req)
			f.scripts = append(f.scripts, req.Script)
			if req.Script == "mobile: type" && len(req.Args) > 0 {
				if m, ok := req.Args[0].(map[string]interface{}); ok {
					if text, ok := m["text"].(string); ok {
						f.typedText = append(f.typedText, text)
					}
				}
			}
			write(w, http.StatusOK, nil)
		case strings.HasSuffix(rest, "/click"), strings.HasSuffix(rest, "/clear"),
			strings.HasSuffix(rest, "/value"), rest == "back":
			write(w, http.StatusOK, nil)
		case strings.HasSuffix(rest, "/rect"):
			write(w, http.StatusOK, map[string]int{"x": 100, "y": 200, "width": 200, "height": 80})
		default:
			write(w, http.StatusNotFound, map[string]string{
				"error": "unknown command", "message": rest,
			})
		}
	})

	mux.HandleFunc("DELETE /session/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.activeSession = ""
		f.mu.Unlock()
		write(w, http.StatusOK, nil)
	})

	return mux
}

func newTestClient(t *testing.T, f *fakeDriver) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		ServerURL:      srv.URL,
		AppPackage:     "com.example.app",
		AppActivity:    ".MainActivity",
		ImplicitWaitMS: 100,
		RequestTimeout: 5 * time.Second,
		MaxRetries:     2,
	})
	if err := c.InitializeSession(context.Background()); err != nil {
		t.Fatalf("InitializeSession: %v", err)
	}
	return c
}

func TestInitializeSession(t *testing.T) {
	f := newFakeDriver()
	c := newTestClient(t, f)

	if c.State() != Running {
		t.Fatalf("state = %v, want RUNNING", c.State())
	}
	if f.sessions != 1 {
		t.Fatalf("sessions created = %d, want 1", f.sessions)
	}
	if c.screenW != 1080 || c.screenH != 2340 {
		t.Fatalf("cached screen size = %dx%d", c.screenW, c.screenH)
	}

	// Idempotent while connected.
	if err := c.InitializeSession(context.Background()); err != nil {
		t.Fatalf("second InitializeSession: %v", err)
	}
	if f.sessions != 1 {
		t.Fatalf("sessions after repeat = %d, want 1", f.sessions)
	}
}

func TestScreenshot(t *testing.T) {
	t.Run("normal capture", func(t *testing.T) {
		f := newFakeDriver()
		c := newTestClient(t, f)
		data, blocked, err := c.Screenshot(context.Background())
		if err != nil || blocked {
			t.Fatalf("Screenshot: data=%d blocked=%v err=%v", len(data), blocked, err)
		}
		if len(data) != 4096 {
			t.Fatalf("decoded %d bytes, want 4096", len(data))
		}
	})

	t.Run("secure screen reports blocked not error", func(t *testing.T) {
		f := newFakeDriver()
		f.secureScreen = true
		c := newTestClient(t, f)
		data, blocked, err := c.Screenshot(context.Background())
		if err != nil {
			t.Fatalf("Screenshot err = %v, want nil", err)
		}
		if !blocked || data != nil {
			t.Fatalf("blocked=%v data=%v, want blocked with nil data", blocked, data)
		}
	})

	t.Run("tiny stub image treated as blocked", func(t *testing.T) {
		f := newFakeDriver()
		f.screenshotB64 = base64.StdEncoding.EncodeToString(make([]byte, 50))
		c := newTestClient(t, f)
		_, blocked, err := c.Screenshot(context.Background())
		if err != nil || !blocked {
			t.Fatalf("blocked=%v err=%v, want blocked", blocked, err)
		}
	})
}

func TestTapPriority(t *testing.T) {
	t.Run("coordinates win over box and id", func(t *testing.T) {
		f := newFakeDriver()
		c := newTestClient(t, f)
		x, y := 10, 20
		err := c.Tap(context.Background(), TapTarget{
			ID: "missing_everywhere",
			Box: &Box{TopLeft: [2]int{0, 0}, BottomRight: [2]int{100, 100}},
			X:  &x, Y: &y,
		})
		if err != nil {
			t.Fatalf("Tap by coords: %v", err)
		}
	})

	t.Run("box used when no coordinates", func(t *testing.T) {
		f := newFakeDriver()
		c := newTestClient(t, f)
		err := c.Tap(context.Background(), TapTarget{
			ID:  "missing_everywhere",
			Box: &Box{TopLeft: [2]int{100, 200}, BottomRight: [2]int{300, 280}},
		})
		if err != nil {
			t.Fatalf("Tap by box: %v", err)
		}
	})

	t.Run("id resolution falls through the locator ladder", func(t *testing.T) {
		f := newFakeDriver()
		// Only resolvable by fully qualified resource id.
		f.addElement("id", "com.example.app:id/login_button", "el-9")
		c := newTestClient(t, f)
		if err := c.Tap(context.Background(), TapTarget{ID: "login_button"}); err != nil {
			t.Fatalf("Tap by id: %v", err)
		}
	})

	t.Run("unresolvable id reports element not found", func(t *testing.T) {
		f := newFakeDriver()
		c := newTestClient(t, f)
		err := c.Tap(context.Background(), TapTarget{ID: "ghost"})
		if !errors.Is(err, ErrElementNotFound) {
			t.Fatalf("err = %v, want ErrElementNotFound", err)
		}
	})
}

func TestInputTextUsesMobileType(t *testing.T) {
	f := newFakeDriver()
	f.addElement("accessibility id", "email_field", "el-1")
	c := newTestClient(t, f)

	err := c.InputText(context.Background(), TapTarget{ID: "email_field"}, "test@email.com")
	if err != nil {
		t.Fatalf("InputText: %v", err)
	}
	if len(f.typedText) != 1 || f.typedText[0] != "test@email.com" {
		t.Fatalf("typed = %v, want the input text via mobile: type", f.typedText)
	}
}

func TestSessionRecovery(t *testing.T) {
	f := newFakeDriver()
	c := newTestClient(t, f)

	// Kill the session behind the client's back.
	f.mu.Lock()
	f.killed = true
	f.mu.Unlock()

	if err := c.ValidateSession(context.Background()); err != nil {
		t.Fatalf("ValidateSession: %v", err)
	}
	if f.sessions != 2 {
		t.Fatalf("sessions = %d, want 2 after recovery", f.sessions)
	}
	if c.State() != Running {
		t.Fatalf("state = %v, want RUNNING after recovery", c.State())
	}

	// The recovered session serves calls again.
	if _, err := c.UITree(context.Background()); err != nil {
		t.Fatalf("UITree after recovery: %v", err)
	}
}

func TestResetAppSequence(t *testing.T) {
	f := newFakeDriver()
	c := newTestClient(t, f)

	if err := c.ResetApp(context.Background()); err != nil {
		t.Fatalf("ResetApp: %v", err)
	}
	want := []string{"mobile: terminateApp", "mobile: activateApp"}
	if len(f.scripts) != 2 || f.scripts[0] != want[0] || f.scripts[1] != want[1] {
		t.Fatalf("scripts = %v, want %v", f.scripts, want)
	}
}

func TestXPathLiteral(t *testing.T) {
	cases := map[string]string{
		"plain":      "'plain'",
		"it's":       `"it's"`,
		`say "hi"`:   `'say "hi"'`,
		`mix '"' up`: `concat('mix ', "'", '"', "'", ' up')`,
	}
	for in, want := range cases {
		if got := xpathLiteral(in); got != want {
			t.Errorf("xpathLiteral(%q) = %s, want %s", in, got, want)
		}
	}
}
