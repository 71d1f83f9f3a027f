package jobs

import (
	"errors"
	"testing"
)

func TestNormalizeRecipient(t *testing.T) {
	cases := []struct{ in, want string }{
		{"  +62 811-222 ", "62811222"},
		{"111", "111"},
		{"Group-Id@G.US", "group-id@g.us"},
		{"   ", ""},
		{"abc", ""},
	}
	for _, c := range cases {
		if got := NormalizeRecipient(c.in); got != c.want {
			t.Errorf("NormalizeRecipient(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestParsePayload(t *testing.T) {
	cases := []struct {
		name    string
		typ     Type
		data    string
		wantErr bool
	}{
		{"text ok", TypeSendText, `{"message":"hi"}`, false},
		{"text empty", TypeSendText, `{"message":"  "}`, true},
		{"personalized ok", TypeSendPersonalized, `{"messages":{"+1 555":"hey"}}`, false},
		{"personalized none", TypeSendPersonalized, `{"message":"hi"}`, true},
		{"personalized bad key", TypeSendPersonalized, `{"messages":{"x":"hey"}}`, true},
		{"media ok", TypeSendMedia, `{"media":{"url":"https://x.test/a.png","caption":"c"}}`, false},
		{"media no url", TypeSendMedia, `{"media":{"caption":"c"}}`, true},
		{"unknown type", Type("send-fax"), `{"message":"hi"}`, true},
		{"malformed", TypeSendText, `{"message":`, true},
		{"empty", TypeSendText, ``, true},
		{"delay ok", TypeSendText, `{"message":"hi","delayMs":10000}`, false},
		{"delay negative", TypeSendText, `{"message":"hi","delayMs":-1}`, true},
		{"delay too long", TypeSendText, `{"message":"hi","delayMs":300001}`, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := ParsePayload(c.typ, []byte(c.data))
			if c.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("err = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestPayloadResolve_Personalized(t *testing.T) {
	p, err := ParsePayload(TypeSendPersonalized, []byte(`{"message":"fallback","messages":{"+1 (555) 01":"for you"}}`))
	if err != nil {
		t.Fatal(err)
	}

	msg, err := p.Resolve(TypeSendPersonalized, "155501")
	if err != nil || msg.Text != "for you" {
		t.Fatalf("override: msg=%+v err=%v", msg, err)
	}
	msg, err = p.Resolve(TypeSendPersonalized, "999")
	if err != nil || msg.Text != "fallback" {
		t.Fatalf("fallback: msg=%+v err=%v", msg, err)
	}

	p.Message = ""
	if _, err := p.Resolve(TypeSendPersonalized, "999"); err == nil {
		t.Fatalf("expected error when nothing resolves")
	}
}

func TestPayloadResolve_MediaIsCopied(t *testing.T) {
	p, err := ParsePayload(TypeSendMedia, []byte(`{"media":{"url":"https://x.test/a.png"}}`))
	if err != nil {
		t.Fatal(err)
	}
	msg, err := p.Resolve(TypeSendMedia, "1")
	if err != nil {
		t.Fatal(err)
	}
	msg.Media.URL = "changed"
	if p.Media.URL != "https://x.test/a.png" {
		t.Fatalf("payload media mutated through resolved message")
	}
}
