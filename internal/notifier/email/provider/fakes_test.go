package provider

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
)

// fakeProvider records sends and returns a fixed error.
type fakeProvider struct {
	name       string
	configured bool
	err        error

	mu    sync.Mutex
	calls int
}

func (f *fakeProvider) Name() string       { return f.name }
func (f *fakeProvider) IsConfigured() bool { return f.configured }

func (f *fakeProvider) Send(ctx context.Context, req *EmailRequest) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.err
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var errProviderDown = errors.New("provider down")

// smtpSession is what the fake SMTP server received.
type smtpSession struct {
	From string
	To   []string
	Data string
}

// startFakeSMTPServer accepts a single SMTP session without STARTTLS or AUTH
// and reports it on the returned channel.
func startFakeSMTPServer(t *testing.T) (addr string, sessions <-chan smtpSession) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen on loopback: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	out := make(chan smtpSession, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		r := bufio.NewReader(conn)
		reply := func(s string) { conn.Write([]byte(s + "\r\n")) }

		var sess smtpSession
		reply("220 fake.local ESMTP")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.TrimRight(line, "\r\n")
			upper := strings.ToUpper(cmd)
			switch {
			case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
				reply("250 fake.local")
			case strings.HasPrefix(upper, "MAIL FROM:"):
				sess.From = strings.Trim(cmd[len("MAIL FROM:"):], "<> ")
				reply("250 OK")
			case strings.HasPrefix(upper, "RCPT TO:"):
				sess.To = append(sess.To, strings.Trim(cmd[len("RCPT TO:"):], "<> "))
				reply("250 OK")
			case upper == "DATA":
				reply("354 End data with <CR><LF>.<CR><LF>")
				var data strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					data.WriteString(l)
				}
				sess.Data = data.String()
				reply("250 OK queued")
			case upper == "QUIT":
				reply("221 Bye")
				out <- sess
				return
			default:
				reply("250 OK")
			}
		}
	}()

	return ln.Addr().String(), out
}

// startHungSMTPServer greets the client and then never answers again.
func startHungSMTPServer(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen on loopback: %v", err)
	}
	done := make(chan struct{})
	t.Cleanup(func() {
		close(done)
		ln.Close()
	})

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("220 hung.local ESMTP\r\n"))
		<-done
	}()
	return ln.Addr().String()
}
