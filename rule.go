package vpnkit

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strings"
)

// Rule binds one local listening endpoint to one remote target
// reachable through a Connector.
type Rule struct {
	Local      LocalAddress
	RemoteIP   net.IP
	RemotePort Port
}

// String returns the rule description used to correlate log lines,
// <local>:<remote_ip>:<remote_port>.
func (r Rule) String() string {
	return fmt.Sprintf("%s:%s:%d", r.Local, r.RemoteIP, r.RemotePort)
}

// ParseRule parses a forwarding rule from its textual form.
// Three shapes are recognized:
//
//	unix:<path>:<remote_ip>:<remote_port>
//	<local_ip>:<local_port>:<remote_ip>:<remote_port>
//	<local_port>:<remote_ip>:<remote_port>
//
// The last shape listens on 127.0.0.1. The grammar splits on literal
// colons, so IPv6 addresses and socket paths containing colons are
// unsupported.
func ParseRule(s string) (r Rule, err error) {
	tokens := strings.Split(s, ":")
	switch {
	case len(tokens) == 4 && tokens[0] == "unix":
		r.Local = UnixAddress{Path: tokens[1]}

	case len(tokens) == 4:
		ip, err := parseIPv4(tokens[0])
		if err != nil {
			return Rule{}, fmt.Errorf("failed to parse local IP and port: '%s'", s)
		}
		port, err := ParsePort(tokens[1])
		if err != nil {
			return Rule{}, fmt.Errorf("failed to parse local IP and port: '%s'", s)
		}
		r.Local = IPAddress{IP: ip, Port: port}

	case len(tokens) == 3:
		port, err := ParsePort(tokens[0])
		if err != nil {
			return Rule{}, fmt.Errorf("failed to parse local IP and port: '%s'", s)
		}
		r.Local = IPAddress{IP: net.IPv4(127, 0, 0, 1).To4(), Port: port}

	default:
		return Rule{}, fmt.Errorf("failed to parse '%s': expected 'unix:<path>:<ip>:<port>' or '[<ip>:]<port>:<ip>:<port>'", s)
	}

	if r.RemoteIP, err = parseIPv4(tokens[len(tokens)-2]); err != nil {
		return Rule{}, fmt.Errorf("failed to parse remote IPv4 address: '%s'", tokens[len(tokens)-2])
	}
	if r.RemotePort, err = ParsePort(tokens[len(tokens)-1]); err != nil {
		return Rule{}, fmt.Errorf("failed to parse remote port: %s", err)
	}
	return
}

// ParseRules reads rules one per line, skipping blank lines and
// '#' comments.
func ParseRules(r io.Reader) ([]Rule, error) {
	var rules []Rule

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if n := strings.IndexByte(line, '#'); n >= 0 {
			line = line[:n]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rule, err := ParseRule(line)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}
