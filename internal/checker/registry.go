// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package checker

import (
	"context"
	"log/slog"

	"github.com/postlab/deliverability/internal/config"
	"github.com/postlab/deliverability/internal/models"
)

// Registry builds the checker set from per-provider configuration.
// Providers without usable credentials are left out; the engine
// records an error outcome for them instead of guessing.
func Registry(ctx context.Context, providers map[models.Provider]config.ProviderConfig) map[models.Provider]Checker {
	checkers := make(map[models.Provider]Checker)

	for p, pc := range providers {
		switch p {
		case models.ProviderGmail:
			if pc.ClientID == "" || pc.ClientSecret == "" || pc.RefreshToken == "" {
				slog.Warn("gmail checker not configured, skipping", "provider", p)
				continue
			}
			checkers[p] = NewGmailChecker(ctx, pc.ClientID, pc.ClientSecret, pc.RefreshToken)

		case models.ProviderOutlook:
			if pc.TenantID == "" || pc.ClientID == "" || pc.ClientSecret == "" {
				slog.Warn("outlook checker not configured, skipping", "provider", p)
				continue
			}
			checkers[p] = NewOutlookChecker(ctx, pc.TenantID, pc.ClientID, pc.ClientSecret)

		default:
			if pc.IMAPHost == "" || pc.Username == "" || pc.Password == "" {
				slog.Warn("imap checker not configured, skipping", "provider", p)
				continue
			}
			port := pc.IMAPPort
			if port == 0 {
				port = 993
			}
			checkers[p] = NewIMAPChecker(p, pc.IMAPHost, port, pc.Username, pc.Password)
		}
	}

	return checkers
}
