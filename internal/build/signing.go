package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Fixed filenames for the signing bundle, located at the project root.
const (
	CertFile     = "cert.p12"
	ProfileFile  = "embedded.mobileprovision"
	PasswordFile = "password.txt"
)

// Bundle is the signing material for a release build. All three files must
// be present to attempt a signed build.
type Bundle struct {
	CertPath    string
	ProfilePath string
	Password    string
}

// InspectBundle looks for the signing files in projectRoot. It returns the
// bundle when complete, or the list of missing filenames when not.
func InspectBundle(projectRoot string) (*Bundle, []string, error) {
	var missing []string
	for _, name := range []string{CertFile, ProfileFile, PasswordFile} {
		if _, err := os.Stat(filepath.Join(projectRoot, name)); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, missing, nil
	}

	password, err := os.ReadFile(filepath.Join(projectRoot, PasswordFile))
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", PasswordFile, err)
	}

	return &Bundle{
		CertPath:    filepath.Join(projectRoot, CertFile),
		ProfilePath: filepath.Join(projectRoot, ProfileFile),
		Password:    trimNewline(string(password)),
	}, nil, nil
}

// importSigningIdentity imports the certificate into the keychain and
// installs the provisioning profile. This mutates agent-global state, which
// is why the poller runs one job at a time.
func (s *Strategy) importSigningIdentity(ctx context.Context, jobID, projectRoot string, bundle *Bundle) error {
	s.relay.Log(jobID, "importing signing certificate")
	_, err := s.buildRunner.Run(ctx, projectRoot, "security",
		"import", bundle.CertPath,
		"-k", s.keychain,
		"-P", bundle.Password,
		"-T", "/usr/bin/codesign",
	)
	if err != nil {
		return fmt.Errorf("%w: certificate import: %v", ErrSigning, err)
	}

	if err := os.MkdirAll(s.profileDir, 0755); err != nil {
		return fmt.Errorf("%w: create profile directory: %v", ErrSigning, err)
	}

	s.relay.Log(jobID, "installing provisioning profile")
	dest := filepath.Join(s.profileDir, jobID+".mobileprovision")
	if _, err := s.buildRunner.Run(ctx, projectRoot, "cp", bundle.ProfilePath, dest); err != nil {
		return fmt.Errorf("%w: provisioning profile install: %v", ErrSigning, err)
	}

	return nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
