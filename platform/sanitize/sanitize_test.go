package sanitize

import "testing"

func TestText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "Caller needs a reefer", want: "Caller needs a reefer"},
		{name: "tags", in: "<b>Booked</b> load <script>alert(1)</script>", want: "Booked load alert(1)"},
		{name: "encoded tag", in: "&lt;img src=x&gt;quote", want: "quote"},
		{name: "entities", in: "Tom &amp; Sons", want: "Tom & Sons"},
		{name: "whitespace", in: "  two\n\nlines\tand  tabs ", want: "two lines and tabs"},
		{name: "control chars", in: "bell\x07 here", want: "bell here"},
		{name: "arrows kept", in: "Dallas <-> Atlanta, 3 < 5", want: "Dallas <-> Atlanta, 3 < 5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Text(tt.in); got != tt.want {
				t.Fatalf("Text(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestTextPtr(t *testing.T) {
	if TextPtr(nil) != nil {
		t.Fatalf("nil input should stay nil")
	}
	empty := "<p> </p>"
	if TextPtr(&empty) != nil {
		t.Fatalf("markup-only input should become nil")
	}
	s := "<i>MC</i> verified"
	if got := TextPtr(&s); got == nil || *got != "MC verified" {
		t.Fatalf("unexpected %v", got)
	}
}
