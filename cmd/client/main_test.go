package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

type stubSession struct {
	joined []string
	sent   []string
	err    error
}

func (s *stubSession) Join(identity string) error {
	s.joined = append(s.joined, identity)
	return s.err
}

func (s *stubSession) Send(text string) error {
	s.sent = append(s.sent, text)
	return s.err
}

func (s *stubSession) Roster() []string {
	return []string{"alice", "bob"}
}

func TestHandleLine(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		wantQuit   bool
		wantJoined []string
		wantSent   []string
		wantOut    string
	}{
		{name: "blank", line: "   "},
		{name: "quit", line: "/quit", wantQuit: true},
		{name: "exit", line: " /exit ", wantQuit: true},
		{name: "join", line: "/join alice", wantJoined: []string{" alice"}},
		{name: "join without name", line: "/join", wantJoined: []string{""}},
		{name: "who", line: "/who", wantOut: "Online Users: alice, bob"},
		{name: "message kept verbatim", line: "  hi there ", wantSent: []string{"  hi there "}},
		{name: "joinery is a message", line: "/joinery", wantSent: []string{"/joinery"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			s := &stubSession{}

			quit := handleLine(tt.line, s, newRenderer(&buf))

			if quit != tt.wantQuit {
				t.Errorf("quit = %v, want %v", quit, tt.wantQuit)
			}
			if strings.Join(s.joined, "|") != strings.Join(tt.wantJoined, "|") || len(s.joined) != len(tt.wantJoined) {
				t.Errorf("joined = %q, want %q", s.joined, tt.wantJoined)
			}
			if strings.Join(s.sent, "|") != strings.Join(tt.wantSent, "|") {
				t.Errorf("sent = %q, want %q", s.sent, tt.wantSent)
			}
			if tt.wantOut != "" && !strings.Contains(buf.String(), tt.wantOut) {
				t.Errorf("output = %q, want it to contain %q", buf.String(), tt.wantOut)
			}
		})
	}
}

func TestHandleLine_ReportsErrors(t *testing.T) {
	var buf bytes.Buffer
	s := &stubSession{err: errors.New("cannot send while connected")}

	handleLine("hello", s, newRenderer(&buf))

	if !strings.Contains(buf.String(), "cannot send while connected") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestRootCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{name: "version flag", args: []string{"--version"}},
		{name: "help flag", args: []string{"--help"}},
		{name: "unexpected argument", args: []string{"extra"}, wantErr: true},
		{name: "invalid server url", args: []string{"--server", "not a url"}, wantErr: true},
		{name: "missing config file", args: []string{"--config", "/nonexistent/room.yaml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetArgs(tt.args)
			var stdout, stderr bytes.Buffer
			cmd.SetOut(&stdout)
			cmd.SetErr(&stderr)

			err := cmd.Execute()
			if (err != nil) != tt.wantErr {
				t.Errorf("Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
