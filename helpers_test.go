package main

import (
	"slices"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{" \t\r\n", nil},
		{"tcp 1 2 3 4", []string{"tcp", "1", "2", "3", "4"}},
		{"a b c", []string{"a", "b", "c"}},
		{"a\x1db", []string{"a", "b"}},
		{"\xffho\xc0st:\xfe x", []string{"host:", "x"}},
	}
	for _, tt := range tests {
		if got := tokenize([]byte(tt.in)); !slices.Equal(got, tt.want) {
			t.Errorf("tokenize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHasHTTPPrefix(t *testing.T) {
	tests := []struct {
		word string
		want bool
	}{
		{"http", true},
		{"HTTP/1.1", true},
		{"hTtPs://x", true},
		{"htt", false},
		{"", false},
		{"xhttp", false},
		{"httép", false},
		{"éhttp", false},
	}
	for _, tt := range tests {
		if got := hasHTTPPrefix(tt.word); got != tt.want {
			t.Errorf("hasHTTPPrefix(%q) = %v, want %v", tt.word, got, tt.want)
		}
	}
}

func TestIsRequestLine(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"GET / HTTP/1.1", true},
		{"post /form http/1.0", true},
		{"HTTP/1.1 200 OK", false},
		{"GET /", false},
		{"GET / HTTP/", false},
		{"GET / HTTP/1.1 extra", false},
	}
	for _, tt := range tests {
		if got := isRequestLine(tokenize([]byte(tt.line))); got != tt.want {
			t.Errorf("isRequestLine(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestProtocolName(t *testing.T) {
	for proto, want := range map[Protocol]string{
		ProtoTCP: "tcp", ProtoSSL: "ssl", ProtoHTTP: "http", ProtoHTTPS: "https",
	} {
		got, err := proto.Name()
		if err != nil || got != want {
			t.Errorf("%d.Name() = %q, %v; want %q", int(proto), got, err, want)
		}
	}
	if _, err := ProtoUnset.Name(); err == nil {
		t.Error("unset protocol has a name")
	}
}
