package screen

import "testing"

const loginTree = `<hierarchy rotation="0">
  <node class="android.widget.FrameLayout" bounds="[0,0][1080,1920]">
    <node class="android.widget.EditText" resource-id="com.example:id/email" text="" clickable="true" bounds="[50,300][1030,400]"/>
    <node class="android.widget.Button" resource-id="com.example:id/login_btn" text="Log in" clickable="true" bounds="[50,500][1030,600]"/>
  </node>
</hierarchy>`

func TestFingerprintStability(t *testing.T) {
	base := Fingerprint(loginTree, ".LoginActivity")
	if len(base) != 16 {
		t.Fatalf("hash length = %d, want 16", len(base))
	}

	t.Run("volatile attributes ignored", func(t *testing.T) {
		mutated := `<hierarchy rotation="0">
  <node class="android.widget.FrameLayout" bounds="[0,0][1080,2000]">
    <node class="android.widget.EditText" resource-id="com.example:id/email" text="user typed this" clickable="true" focused="true" bounds="[50,310][1030,410]"/>
    <node class="android.widget.Button" resource-id="com.example:id/login_btn" text="Log in" clickable="true" bounds="[50,510][1030,610]"/>
  </node>
</hierarchy>`
		if got := Fingerprint(mutated, ".LoginActivity"); got != base {
			t.Errorf("hash changed on volatile attributes: %s vs %s", got, base)
		}
	})

	t.Run("attribute order ignored", func(t *testing.T) {
		reordered := `<hierarchy rotation="0">
  <node bounds="[0,0][1080,1920]" class="android.widget.FrameLayout">
    <node clickable="true" resource-id="com.example:id/email" class="android.widget.EditText" text="" bounds="[50,300][1030,400]"/>
    <node text="Log in" class="android.widget.Button" clickable="true" resource-id="com.example:id/login_btn" bounds="[50,500][1030,600]"/>
  </node>
</hierarchy>`
		if got := Fingerprint(reordered, ".LoginActivity"); got != base {
			t.Errorf("hash changed on attribute reordering: %s vs %s", got, base)
		}
	})

	t.Run("activity is part of the identity", func(t *testing.T) {
		if got := Fingerprint(loginTree, ".HomeActivity"); got == base {
			t.Error("different activity produced the same hash")
		}
	})

	t.Run("structural change changes the hash", func(t *testing.T) {
		extra := loginTree[:len(loginTree)-len("</hierarchy>")] +
			`<node class="android.widget.TextView" text="Forgot password?" clickable="true"/></hierarchy>`
		if got := Fingerprint(extra, ".LoginActivity"); got == base {
			t.Error("added element did not change the hash")
		}
	})

	t.Run("malformed input still deterministic", func(t *testing.T) {
		broken := "<hierarchy><node class=\"a\""
		if Fingerprint(broken, "x") != Fingerprint(broken, "x") {
			t.Error("truncated tree hashed non-deterministically")
		}
	})
}

func TestSimplifyTree(t *testing.T) {
	els := SimplifyTree(loginTree)
	if len(els) != 2 {
		t.Fatalf("got %d elements, want 2 (container filtered)", len(els))
	}
	if els[0].ResourceID != "email" {
		t.Errorf("resource id = %q, want package prefix stripped", els[0].ResourceID)
	}
	if els[1].Text != "Log in" || !els[1].Clickable {
		t.Errorf("button element = %+v", els[1])
	}
	want := []int{50, 300, 1030, 400}
	for i, v := range want {
		if els[0].Bounds[i] != v {
			t.Fatalf("bounds = %v, want %v", els[0].Bounds, want)
		}
	}
}

func TestFormatOCRBlock(t *testing.T) {
	items := []OCRItem{
		{Text: "Sign up", Bounds: []int{10, 20, 110, 60}},
		{Text: "Log in", Bounds: []int{0, 0, 50, 50}},
	}
	got := FormatOCRBlock(items)
	want := "ocr_0 = \"Sign up\" [10 20 110 60]\nocr_1 = \"Log in\" [0 0 50 50]\n"
	if got != want {
		t.Errorf("block = %q, want %q", got, want)
	}
	if FormatOCRBlock(nil) != "" {
		t.Error("empty items should produce an empty block")
	}
}
