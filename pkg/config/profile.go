package config

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/wesheets/trustfabric/pkg/contracts"
)

// ApprovedProfile pins what an operator has approved a node to run: the
// fabric name, a version constraint on the build, the signature algorithms
// peers may use, and a cap on propagation fan-out. Nodes verify themselves
// against the profile at startup and refuse to start on drift.
type ApprovedProfile struct {
	Fabric             string   `yaml:"fabric" json:"fabric"`
	VersionConstraint  string   `yaml:"version_constraint" json:"version_constraint"`
	ApprovedAlgorithms []string `yaml:"approved_algorithms" json:"approved_algorithms"`
	MaxFanout          int      `yaml:"max_fanout" json:"max_fanout"`
}

// LoadProfile reads an approved profile from a YAML file.
func LoadProfile(path string) (*ApprovedProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	var p ApprovedProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}
	if p.Fabric == "" || p.VersionConstraint == "" {
		return nil, fmt.Errorf("profile %s missing fabric or version_constraint: %w", path, contracts.ErrValidation)
	}
	return &p, nil
}

// Verify checks the running build version and signer algorithm against
// the profile. Returns contracts.ErrValidation (wrapped) on drift.
func (p *ApprovedProfile) Verify(buildVersion, signerAlgorithm string) error {
	constraint, err := semver.NewConstraint(p.VersionConstraint)
	if err != nil {
		return fmt.Errorf("invalid version constraint %q: %w", p.VersionConstraint, contracts.ErrValidation)
	}
	version, err := semver.NewVersion(buildVersion)
	if err != nil {
		return fmt.Errorf("invalid build version %q: %w", buildVersion, contracts.ErrValidation)
	}
	if !constraint.Check(version) {
		return fmt.Errorf("build version %s outside approved constraint %s: %w",
			buildVersion, p.VersionConstraint, contracts.ErrValidation)
	}

	if len(p.ApprovedAlgorithms) > 0 {
		approved := false
		for _, alg := range p.ApprovedAlgorithms {
			if alg == signerAlgorithm {
				approved = true
				break
			}
		}
		if !approved {
			return fmt.Errorf("signer algorithm %q not approved: %w", signerAlgorithm, contracts.ErrValidation)
		}
	}
	return nil
}

// FanoutAllowed reports whether a propagation to n targets is within the
// profile cap. Zero cap means unlimited.
func (p *ApprovedProfile) FanoutAllowed(n int) bool {
	return p.MaxFanout <= 0 || n <= p.MaxFanout
}
