// Package redisstub runs an in-process Redis lookalike that implements just
// enough of the protocol for the login throttle: INCR, EXPIRE, and TTL over
// counters with expiry. Tests point a real client at Addr().
package redisstub

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Options struct {
	Password string
}

type Server struct {
	opts     Options
	listener net.Listener
	addr     string
	mu       sync.Mutex
	counters map[string]*counter
	closed   chan struct{}
}

type counter struct {
	value  int64
	expiry time.Time
}

func Start(opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	server := &Server{
		opts:     opts,
		listener: ln,
		addr:     ln.Addr().String(),
		counters: make(map[string]*counter),
		closed:   make(chan struct{}),
	}
	go server.serve()
	return server, nil
}

func (s *Server) Addr() string {
	return s.addr
}

func (s *Server) Close() error {
	s.mu.Lock()
	select {
	case <-s.closed:
		s.mu.Unlock()
		return nil
	default:
	}
	close(s.closed)
	s.mu.Unlock()
	return s.listener.Close()
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	authenticated := s.opts.Password == ""
	for {
		args, err := readCommand(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			if writeError(writer, "ERR empty command") != nil {
				return
			}
			continue
		}
		var writeErr error
		switch strings.ToUpper(args[0]) {
		case "PING":
			writeErr = writeSimpleString(writer, "PONG")
		case "SELECT", "CLIENT", "RESET":
			writeErr = writeSimpleString(writer, "OK")
		case "HELLO":
			// Clients fall back to RESP2 when HELLO is answered with an
			// error, so the connection must stay open.
			writeErr = writeError(writer, "ERR unknown command 'HELLO'")
		case "AUTH":
			password := ""
			switch len(args) {
			case 2:
				password = args[1]
			case 3:
				password = args[2]
			default:
				writeErr = writeError(writer, "ERR wrong number of arguments for 'auth'")
			}
			if writeErr == nil {
				if s.opts.Password == "" || password == s.opts.Password {
					authenticated = true
					writeErr = writeSimpleString(writer, "OK")
				} else {
					writeErr = writeError(writer, "WRONGPASS invalid username-password pair")
				}
			}
		case "INCR":
			if !authenticated {
				writeErr = writeError(writer, "NOAUTH Authentication required.")
				break
			}
			if len(args) != 2 {
				writeErr = writeError(writer, "ERR wrong number of arguments for 'incr'")
				break
			}
			writeErr = writeInteger(writer, s.incr(args[1]))
		case "EXPIRE":
			if !authenticated {
				writeErr = writeError(writer, "NOAUTH Authentication required.")
				break
			}
			if len(args) != 3 {
				writeErr = writeError(writer, "ERR wrong number of arguments for 'expire'")
				break
			}
			seconds, parseErr := strconv.ParseInt(args[2], 10, 64)
			if parseErr != nil {
				writeErr = writeError(writer, "ERR value is not an integer or out of range")
				break
			}
			s.expire(args[1], time.Duration(seconds)*time.Second)
			writeErr = writeInteger(writer, 1)
		case "TTL":
			if !authenticated {
				writeErr = writeError(writer, "NOAUTH Authentication required.")
				break
			}
			if len(args) != 2 {
				writeErr = writeError(writer, "ERR wrong number of arguments for 'ttl'")
				break
			}
			writeErr = writeInteger(writer, s.ttl(args[1]))
		default:
			writeErr = writeError(writer, fmt.Sprintf("ERR unknown command '%s'", args[0]))
		}
		if writeErr != nil {
			return
		}
	}
}

func (s *Server) incr(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.counters[key]
	if entry == nil || (!entry.expiry.IsZero() && time.Now().After(entry.expiry)) {
		entry = &counter{}
		s.counters[key] = entry
	}
	entry.value++
	return entry.value
}

func (s *Server) expire(key string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.counters[key]
	if entry == nil {
		entry = &counter{}
		s.counters[key] = entry
	}
	entry.expiry = time.Now().Add(ttl)
}

func (s *Server) ttl(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.counters[key]
	if entry == nil {
		return -2
	}
	if entry.expiry.IsZero() {
		return -1
	}
	remaining := time.Until(entry.expiry)
	if remaining <= 0 {
		delete(s.counters, key)
		return -2
	}
	return int64(remaining / time.Second)
}

func readCommand(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		return nil, fmt.Errorf("unexpected prefix %q", prefix)
	}
	count, err := readLength(r)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, count)
	for i := 0; i < count; i++ {
		arg, err := readBulkString(r)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func readBulkString(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("unexpected prefix %q", prefix)
	}
	length, err := readLength(r)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", nil
	}
	buf := make([]byte, length+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:length]), nil
}

func readLength(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	line = strings.TrimRight(line, "\r\n")
	value, err := strconv.Atoi(line)
	if err != nil {
		return 0, fmt.Errorf("invalid length %q", line)
	}
	return value, nil
}

func writeSimpleString(w *bufio.Writer, value string) error {
	if _, err := fmt.Fprintf(w, "+%s\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeInteger(w *bufio.Writer, value int64) error {
	if _, err := fmt.Fprintf(w, ":%d\r\n", value); err != nil {
		return err
	}
	return w.Flush()
}

func writeError(w *bufio.Writer, msg string) error {
	if _, err := fmt.Fprintf(w, "-%s\r\n", msg); err != nil {
		return err
	}
	return w.Flush()
}
