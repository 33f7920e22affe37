package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/learnloop/chatrelay/internal/domain"
	"gopkg.in/yaml.v3"
)

// Fixtures is the YAML document accepted by the seed command.
type Fixtures struct {
	Users       []domain.User      `yaml:"users"`
	Communities []CommunityFixture `yaml:"communities"`
}

type CommunityFixture struct {
	Community `yaml:",inline"`
	Members   []string `yaml:"members"`
}

// DecodeFixtures parses a fixtures document, rejecting unknown fields.
func DecodeFixtures(r io.Reader) (Fixtures, error) {
	var f Fixtures
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return Fixtures{}, fmt.Errorf("decode fixtures: %w", err)
	}
	return f, f.validate()
}

func (f Fixtures) validate() error {
	users := make(map[string]struct{}, len(f.Users))
	for _, u := range f.Users {
		if u.ID == "" || u.Email == "" {
			return fmt.Errorf("user %q: id and email are required", u.ID)
		}
		users[u.ID] = struct{}{}
	}
	for _, c := range f.Communities {
		if c.ID == "" {
			return fmt.Errorf("community %q: id is required", c.Name)
		}
		for _, m := range c.Members {
			if _, ok := users[m]; !ok {
				return fmt.Errorf("community %s: unknown member %q", c.ID, m)
			}
		}
	}
	return nil
}

// Apply writes f into s. It is idempotent.
func (f Fixtures) Apply(ctx context.Context, s Seeder) error {
	for _, u := range f.Users {
		if err := s.UpsertUser(ctx, u); err != nil {
			return err
		}
	}
	for _, c := range f.Communities {
		if err := s.UpsertCommunity(ctx, c.Community); err != nil {
			return err
		}
		for _, m := range c.Members {
			if err := s.AddCommunityMember(ctx, c.ID, m); err != nil {
				return err
			}
		}
	}
	return nil
}
