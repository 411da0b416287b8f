package device

// W3C actions payload builders. Each returns the body for
// POST /session/:id/actions.

func pointerSequence(id string, actions []map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"actions": []map[string]interface{}{
			{
				"type":       "pointer",
				"id":         id,
				"parameters": map[string]string{"pointerType": "touch"},
				"actions":    actions,
			},
		},
	}
}

func moveTo(x, y int) map[string]interface{} {
	return map[string]interface{}{
		"type": "pointerMove", "duration": 0, "x": x, "y": y, "origin": "viewport",
	}
}

func pause(ms int) map[string]interface{} {
	return map[string]interface{}{"type": "pause", "duration": ms}
}

var (
	pointerDown = map[string]interface{}{"type": "pointerDown", "button": 0}
	pointerUp   = map[string]interface{}{"type": "pointerUp", "button": 0}
)

func tapActions(x, y int) map[string]interface{} {
	return pointerSequence("finger1", []map[string]interface{}{
		moveTo(x, y), pointerDown, pause(80), pointerUp,
	})
}

func longPressActions(x, y, durationMS int) map[string]interface{} {
	if durationMS <= 0 {
		durationMS = 1000
	}
	return pointerSequence("finger1", []map[string]interface{}{
		moveTo(x, y), pointerDown, pause(durationMS), pointerUp,
	})
}

func doubleTapActions(x, y int) map[string]interface{} {
	return pointerSequence("finger1", []map[string]interface{}{
		moveTo(x, y), pointerDown, pause(60), pointerUp,
		pause(80),
		pointerDown, pause(60), pointerUp,
	})
}

func swipeActions(x1, y1, x2, y2, durationMS int) map[string]interface{} {
	if durationMS <= 0 {
		durationMS = 300
	}
	return pointerSequence("finger1", []map[string]interface{}{
		moveTo(x1, y1),
		pointerDown,
		pause(50),
		{"type": "pointerMove", "duration": durationMS, "x": x2, "y": y2, "origin": "viewport"},
		pointerUp,
	})
}

// keyActions types text through the W3C key source, used as the
// second rung of the input fallback ladder.
func keyActions(text string) map[string]interface{} {
	var seq []map[string]interface{}
	for _, r := range text {
		s := string(r)
		seq = append(seq,
			map[string]interface{}{"type": "keyDown", "value": s},
			map[string]interface{}{"type": "keyUp", "value": s},
		)
	}
	return map[string]interface{}{
		"actions": []map[string]interface{}{
			{"type": "key", "id": "keyboard", "actions": seq},
		},
	}
}
