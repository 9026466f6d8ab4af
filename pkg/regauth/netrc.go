package regauth

import (
	"bufio"
	"net/url"
	"os"
	"strings"
)

// NetrcProvider implements CredentialProvider over a parsed .netrc file:
// explicit "machine" entries matched by host, with an optional trailing
// "default" entry used when no machine matches. Standard netrc semantics
// apply: the last entry for a given machine wins, and a "default" entry
// before the end of the file is still only consulted as the fallback.
type NetrcProvider struct {
	machines map[string]netrcEntry
	def      *netrcEntry
}

type netrcEntry struct {
	login, password string
}

// LoadNetrc parses the .netrc-format file at path.
func LoadNetrc(path string) (*NetrcProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseNetrc(f)
}

func parseNetrc(f *os.File) (*NetrcProvider, error) {
	p := &NetrcProvider{machines: make(map[string]netrcEntry)}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var tokens []string
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		tokens = append(tokens, strings.Fields(line)...)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	var currentMachine string
	var entry netrcEntry
	haveMachine := false
	flush := func() {
		if !haveMachine {
			return
		}
		if currentMachine == "default" {
			e := entry
			p.def = &e
		} else {
			p.machines[currentMachine] = entry
		}
	}

	i := 0
	for i < len(tokens) {
		switch tokens[i] {
		case "machine":
			flush()
			if i+1 >= len(tokens) {
				i++
				continue
			}
			currentMachine = tokens[i+1]
			entry = netrcEntry{}
			haveMachine = true
			i += 2
		case "default":
			flush()
			currentMachine = "default"
			entry = netrcEntry{}
			haveMachine = true
			i++
		case "login":
			if i+1 < len(tokens) {
				entry.login = tokens[i+1]
				i += 2
			} else {
				i++
			}
		case "password":
			if i+1 < len(tokens) {
				entry.password = tokens[i+1]
				i += 2
			} else {
				i++
			}
		default:
			i++
		}
	}
	flush()

	return p, nil
}

// Credentials implements CredentialProvider.
func (p *NetrcProvider) Credentials(rawURL string) (string, string, bool) {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	if e, ok := p.machines[host]; ok {
		return e.login, e.password, true
	}
	if p.def != nil {
		return p.def.login, p.def.password, true
	}
	return "", "", false
}
