package crawler

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// AILog appends the full prompt/response transcript of a run to
// logs/ai_interaction.log. Failures degrade to losing the transcript,
// never the run.
type AILog struct {
	mu sync.Mutex
	f  *os.File
}

func OpenAILog(path string) *AILog {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &AILog{}
	}
	return &AILog{f: f}
}

func (l *AILog) Record(step int, prompt, response string, latency time.Duration) {
	if l.f == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.f, "===== STEP %d | %s | latency %s =====\n--- PROMPT ---\n%s\n--- RESPONSE ---\n%s\n\n",
		step, time.Now().Format(time.RFC3339), latency.Round(time.Millisecond), prompt, response)
}

func (l *AILog) Close() {
	if l.f != nil {
		l.f.Close()
	}
}
