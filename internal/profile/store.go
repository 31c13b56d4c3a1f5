package profile

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/credchain/credchain/internal/core"
)

// FileKind selects the section-header convention of a profile file.
type FileKind int

const (
	// KindConfig is the ~/.aws/config convention: [profile <name>] headers
	// (bare [default] allowed) and [sso-session <name>] sections.
	KindConfig FileKind = iota
	// KindCredentials is the ~/.aws/credentials convention: bare [<name>]
	// headers.
	KindCredentials
)

const (
	profileHeaderPrefix = "profile "
	ssoSessionPrefix    = "sso-session "
	defaultProfileName  = "default"
)

// FileSet is the parsed and merged view of the two profile files.
type FileSet struct {
	Profiles    map[string]*Profile
	SSOSessions map[string]*SSOSession
	// Diagnostics collects line-localized parse errors. They are surfaced
	// to the user but do not abort loading; the offending sections are
	// simply absent from Profiles/SSOSessions.
	Diagnostics []*core.ParseError
}

// Store loads profiles from a config-style and a credentials-style file.
// Either path may point at a file that does not exist yet.
type Store struct {
	ConfigPath      string
	CredentialsPath string
	logger          zerolog.Logger
}

// NewStore creates a store over the two given file paths.
func NewStore(configPath, credentialsPath string, logger zerolog.Logger) *Store {
	return &Store{
		ConfigPath:      configPath,
		CredentialsPath: credentialsPath,
		logger:          logger,
	}
}

// Load parses both files and merges them, credentials values taking
// precedence over config values for identical keys on the same profile.
func (s *Store) Load() (*FileSet, error) {
	config, sessions, configDiags, err := parseFile(s.ConfigPath, KindConfig)
	if err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	credentials, _, credDiags, err := parseFile(s.CredentialsPath, KindCredentials)
	if err != nil {
		return nil, fmt.Errorf("loading credentials file: %w", err)
	}

	fs := &FileSet{
		Profiles:    Merge(config, credentials),
		SSOSessions: sessions,
		Diagnostics: append(configDiags, credDiags...),
	}

	for _, d := range fs.Diagnostics {
		s.logger.Warn().Str("file", d.File).Int("line", d.Line).Msg(d.Msg)
	}
	s.logger.Debug().
		Int("profiles", len(fs.Profiles)).
		Int("sso_sessions", len(fs.SSOSessions)).
		Int("diagnostics", len(fs.Diagnostics)).
		Msg("profile files loaded")

	return fs, nil
}

// Merge combines the two per-file profile maps. Per-profile per-key values
// come from credentials when present there, else from config; profiles
// present in only one file are retained as-is.
func Merge(config, credentials map[string]*Profile) map[string]*Profile {
	merged := make(map[string]*Profile, len(config)+len(credentials))
	for name, p := range config {
		merged[name] = p.clone()
	}
	for name, p := range credentials {
		existing, ok := merged[name]
		if !ok {
			merged[name] = p.clone()
			continue
		}
		for k, v := range p.Properties {
			existing.Properties[k] = v
		}
	}
	return merged
}

// section accumulates one [header] block during parsing.
type section struct {
	name      string
	isSession bool
	props     map[string]string
	malformed bool
}

// parseFile reads one file. A missing file yields empty maps. Malformed
// lines produce diagnostics and poison only their own section.
func parseFile(path string, kind FileKind) (map[string]*Profile, map[string]*SSOSession, []*core.ParseError, error) {
	profiles := make(map[string]*Profile)
	sessions := make(map[string]*SSOSession)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return profiles, sessions, nil, nil
		}
		return nil, nil, nil, err
	}
	defer f.Close()

	var diags []*core.ParseError
	var current *section
	// discarding is set after a malformed section header: properties up to
	// the next valid header belong to no section and are dropped without
	// per-line noise.
	discarding := false

	commit := func() {
		if current == nil || current.malformed {
			current = nil
			return
		}
		if current.isSession {
			sessions[current.name] = &SSOSession{Name: current.name, Properties: current.props}
		} else {
			profiles[current.name] = &Profile{Name: current.name, Properties: current.props}
		}
		current = nil
	}

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") {
			commit()
			discarding = false

			if !strings.HasSuffix(line, "]") {
				diags = append(diags, &core.ParseError{File: path, Line: lineNo, Msg: fmt.Sprintf("malformed section header %q", line)})
				discarding = true
				continue
			}

			name, isSession, err := parseHeader(strings.TrimSpace(line[1:len(line)-1]), kind)
			if err != nil {
				diags = append(diags, &core.ParseError{File: path, Line: lineNo, Msg: err.Error()})
				discarding = true
				continue
			}
			current = &section{name: name, isSession: isSession, props: make(map[string]string)}
			continue
		}

		if current == nil {
			if !discarding {
				diags = append(diags, &core.ParseError{File: path, Line: lineNo, Msg: fmt.Sprintf("property %q defined outside of any section", line)})
			}
			continue
		}

		eq := strings.Index(line, "=")
		if eq <= 0 {
			diags = append(diags, &core.ParseError{File: path, Line: lineNo, Msg: fmt.Sprintf("expected key=value, got %q", line)})
			current.malformed = true
			continue
		}

		key := strings.ToLower(strings.TrimSpace(line[:eq]))
		value := strings.TrimSpace(line[eq+1:])
		current.props[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, nil, err
	}
	commit()

	return profiles, sessions, diags, nil
}

// parseHeader interprets the text between the brackets per the file kind.
func parseHeader(inner string, kind FileKind) (name string, isSession bool, err error) {
	if inner == "" {
		return "", false, fmt.Errorf("empty section name")
	}

	if kind == KindCredentials {
		return inner, false, nil
	}

	if strings.HasPrefix(inner, ssoSessionPrefix) {
		name = strings.TrimSpace(strings.TrimPrefix(inner, ssoSessionPrefix))
		if name == "" {
			return "", false, fmt.Errorf("empty sso-session name")
		}
		return name, true, nil
	}

	if strings.HasPrefix(inner, profileHeaderPrefix) {
		name = strings.TrimSpace(strings.TrimPrefix(inner, profileHeaderPrefix))
		if name == "" {
			return "", false, fmt.Errorf("empty profile name")
		}
		return name, false, nil
	}

	// Only the default profile may omit the "profile " prefix in a
	// config-style file.
	if inner == defaultProfileName {
		return defaultProfileName, false, nil
	}

	return "", false, fmt.Errorf("section %q must be headed [profile %s]", inner, inner)
}
