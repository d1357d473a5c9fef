// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package subject computes the subject identifier a client sees for an
// end-user: the raw subject for public clients and a per-sector hash for
// pairwise clients.
package subject

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"slices"

	"github.com/stacklok/toolhive-idp/pkg/authserver/client"
	"github.com/stacklok/toolhive-idp/pkg/authserver/vor"
	idperrors "github.com/stacklok/toolhive-idp/pkg/errors"
	"github.com/stacklok/toolhive-idp/pkg/logger"
	"github.com/stacklok/toolhive-idp/pkg/oauth"
)

// Obfuscator maps a raw subject to the identifier exposed to a client.
type Obfuscator interface {
	Obfuscate(ctx context.Context, subject string, c client.Client) (string, error)
}

// Public returns subjects unchanged. It only serves public subject types.
type Public struct{}

// Obfuscate implements Obfuscator.
func (Public) Obfuscate(_ context.Context, subject string, c client.Client) (string, error) {
	if t := subjectType(c); t != oauth.SubjectTypePublic {
		panic(fmt.Sprintf("subject: public obfuscator called for %s client %s", t, c.GetID()))
	}
	return subject, nil
}

// Pairwise derives sha256(sector_host || subject || salt) as lowercase hex.
// It only serves pairwise subject types.
type Pairwise struct {
	salt    []byte
	sectors *vor.Resolver[[]string]
}

// NewPairwise creates a pairwise obfuscator. sectors resolves a
// sector_identifier_uri into its JSON list of redirect URIs.
func NewPairwise(salt []byte, sectors *vor.Resolver[[]string]) *Pairwise {
	return &Pairwise{salt: salt, sectors: sectors}
}

// Obfuscate implements Obfuscator.
func (p *Pairwise) Obfuscate(ctx context.Context, subject string, c client.Client) (string, error) {
	if t := subjectType(c); t != oauth.SubjectTypePairwise {
		panic(fmt.Sprintf("subject: pairwise obfuscator called for %s client %s", t, c.GetID()))
	}
	sector, err := p.sector(ctx, c)
	if err != nil {
		return "", err
	}

	input := make([]byte, 0, len(sector)+len(subject)+len(p.salt))
	input = append(input, sector...)
	input = append(input, subject...)
	input = append(input, p.salt...)
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:]), nil
}

// sector returns the sector identifier host. A declared sector_identifier_uri
// must list every registered redirect URI; otherwise the redirect URIs must
// share one host.
func (p *Pairwise) sector(ctx context.Context, c client.Client) (string, error) {
	redirects := c.GetRedirectURIs()

	var sectorURI string
	if hs, ok := c.(client.HasSubjectType); ok {
		sectorURI = hs.GetSectorIdentifierURI()
	}
	if sectorURI != "" {
		u, err := oauth.RequireHTTPS(sectorURI)
		if err != nil {
			return "", idperrors.ServerError(idperrors.SubInvalidSectorIdentifier,
				"sector_identifier_uri must use https").WithCause(err)
		}
		listed, _, err := p.sectors.Resolve(ctx, "", sectorURI)
		if err != nil {
			return "", err
		}
		for _, r := range redirects {
			if !slices.Contains(listed, r) {
				logger.Warnw("sector identifier document does not list a redirect uri",
					"client_id", c.GetID(), "sector_identifier_uri", sectorURI, "redirect_uri", r)
				return "", idperrors.ServerError(idperrors.SubInvalidSectorIdentifier,
					"sector_identifier_uri does not list every registered redirect_uri")
			}
		}
		return u.Host, nil
	}

	var host string
	for _, r := range redirects {
		u, err := url.Parse(r)
		if err != nil {
			return "", idperrors.ServerError(idperrors.SubAmbiguousSector, "redirect_uri is not a valid URL").WithCause(err)
		}
		switch {
		case host == "":
			host = u.Host
		case host != u.Host:
			return "", idperrors.ServerError(idperrors.SubAmbiguousSector,
				"redirect_uris span several hosts and no sector_identifier_uri is registered")
		}
	}
	if host == "" {
		return "", idperrors.ServerError(idperrors.SubAmbiguousSector, "client has no redirect_uri host")
	}
	return host, nil
}

// Selector dispatches to the obfuscator for the client's subject type.
type Selector struct {
	public   Obfuscator
	pairwise Obfuscator
}

// NewSelector creates a Selector. A nil pairwise obfuscator makes pairwise
// clients fail.
func NewSelector(pairwise Obfuscator) *Selector {
	return &Selector{public: Public{}, pairwise: pairwise}
}

// Obfuscate implements Obfuscator.
func (s *Selector) Obfuscate(ctx context.Context, subject string, c client.Client) (string, error) {
	if subjectType(c) == oauth.SubjectTypePairwise {
		if s.pairwise == nil {
			return "", idperrors.ServerError("", "pairwise subjects are not configured")
		}
		return s.pairwise.Obfuscate(ctx, subject, c)
	}
	return s.public.Obfuscate(ctx, subject, c)
}

func subjectType(c client.Client) string {
	if hs, ok := c.(client.HasSubjectType); ok {
		return hs.GetSubjectType()
	}
	return oauth.SubjectTypePublic
}
