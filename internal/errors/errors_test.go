package errors

import (
	"bytes"
	stderrors "errors"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantMsg string
		wantCat Category
	}{
		{
			name:    "encode error",
			code:    "R100",
			wantMsg: "Value cannot be serialized",
			wantCat: CategoryEncode,
		},
		{
			name:    "decode error",
			code:    "R102",
			wantMsg: "Unknown snapshot tag",
			wantCat: CategoryDecode,
		},
		{
			name:    "symbol error",
			code:    "R200",
			wantMsg: "Symbol resolution failed",
			wantCat: CategorySymbol,
		},
		{
			name:    "unknown error code",
			code:    "R999",
			wantMsg: "Unknown error",
			wantCat: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code)
			if err.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", err.Message, tt.wantMsg)
			}
			if err.Category != tt.wantCat {
				t.Errorf("Category = %q, want %q", err.Category, tt.wantCat)
			}
			if err.Code != tt.code {
				t.Errorf("Code = %q, want %q", err.Code, tt.code)
			}
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(CategoryStore, "bucket %q missing", "snaps")
	if err.Message != `bucket "snaps" missing` {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Category != CategoryStore {
		t.Errorf("Category = %q, want %q", err.Category, CategoryStore)
	}
}

func TestError_Error(t *testing.T) {
	err := New("R100").WithPath("root.todos[3]")
	want := "R100: Value cannot be serialized at root.todos[3]"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	cause := stderrors.New("boom")
	err = New("R200").Wrap(cause)
	if !strings.HasSuffix(err.Error(), ": boom") {
		t.Errorf("Error() = %q, want cause suffix", err.Error())
	}
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should see the wrapped cause")
	}
}

type coded struct{ path string }

func (c *coded) Error() string { return "coded" }

func (c *coded) Diagnostic() *Error { return New("R101").WithPath(c.path) }

func TestFromError(t *testing.T) {
	if FromError(nil, "R900") != nil {
		t.Error("FromError(nil) should be nil")
	}

	e := FromError(stderrors.New("plain"), "R900")
	if e.Code != "R900" || e.Wrapped == nil {
		t.Errorf("plain error should be wrapped under fallback, got %+v", e)
	}

	wrapped := stderrorsJoin(&coded{path: "root.a"})
	e = FromError(wrapped, "R900")
	if e.Code != "R101" || e.Path != "root.a" {
		t.Errorf("diagnostic should win, got %+v", e)
	}

	orig := New("R400")
	if FromError(orig, "R900") != orig {
		t.Error("existing *Error should be returned as is")
	}
}

func stderrorsJoin(err error) error {
	return stderrors.Join(stderrors.New("context"), err)
}

func TestFormat(t *testing.T) {
	DisableColors()
	defer EnableColors()

	err := New("R100").WithPath("root.handler")
	out := err.Format()
	for _, want := range []string{
		"ERROR R100: Value cannot be serialized",
		"at root.handler",
		"Hint: Reference behavior through qrl.New",
		"Learn more: https://resume.vango.dev/errors/R100",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Format() missing %q:\n%s", want, out)
		}
	}
}

func TestFormatCompact(t *testing.T) {
	err := New("R102").WithPath("entries[4]")
	want := "R102: Unknown snapshot tag (entries[4])"
	if got := err.FormatCompact(); got != want {
		t.Errorf("FormatCompact() = %q, want %q", got, want)
	}
}

func TestFormatJSON(t *testing.T) {
	out := New("R101").WithPath("entries[2]").FormatJSON()
	for _, want := range []string{`"code":"R101"`, `"category":"decode"`, `"path":"entries[2]"`} {
		if !strings.Contains(out, want) {
			t.Errorf("FormatJSON() missing %s: %s", want, out)
		}
	}
}

func TestFprint(t *testing.T) {
	DisableColors()
	defer EnableColors()

	var buf bytes.Buffer
	Fprint(&buf, stderrors.New("plain failure"))
	if !strings.Contains(buf.String(), "ERROR: plain failure") {
		t.Errorf("unexpected output %q", buf.String())
	}

	buf.Reset()
	Fprint(&buf, &coded{path: "x"})
	if !strings.Contains(buf.String(), "ERROR R101") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestGetAllCodes(t *testing.T) {
	codes := GetAllCodes()
	if len(codes) == 0 {
		t.Fatal("no codes registered")
	}
	for i := 1; i < len(codes); i++ {
		if codes[i-1] > codes[i] {
			t.Fatalf("codes not sorted: %v", codes)
		}
	}
}

func TestRegister(t *testing.T) {
	Register("R998", ErrorTemplate{Category: CategoryCLI, Message: "custom"})
	if tpl, ok := GetTemplate("R998"); !ok || tpl.Message != "custom" {
		t.Errorf("GetTemplate after Register = %+v, %v", tpl, ok)
	}
}

func TestWrapText(t *testing.T) {
	lines := wrapText("one two three four five six seven", 10)
	for _, line := range lines {
		if len(line) > 10 {
			t.Errorf("line %q longer than width", line)
		}
	}
	if wrapText("", 10) != nil {
		t.Error("empty text should produce no lines")
	}
}
