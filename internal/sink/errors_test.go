package sink

import "testing"

func TestErrorClassification(t *testing.T) {
	r := Retryablef("busy %d", 1)
	if r.Terminal() {
		t.Fatalf("retryable reported terminal")
	}
	term := Terminalf("bad")
	if !term.Terminal() {
		t.Fatalf("terminal reported retryable")
	}
}

func TestErrorCodes(t *testing.T) {
	e := &TerminalError{Reason: "nope", StatusCode: 422}
	if e.Code() != 422 {
		t.Fatalf("code = %d", e.Code())
	}
	if e.Error() == "" || (&RetryableError{Reason: "x"}).Error() == "" {
		t.Fatalf("empty error text")
	}
}
