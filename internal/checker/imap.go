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
	"fmt"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/postlab/deliverability/internal/models"
)

// spamMailboxes are the junk folder names tried after INBOX, in
// order. Yahoo uses "Bulk Mail", iCloud "Junk", Proton Bridge "Spam".
var spamMailboxes = []string{"Junk", "Spam", "Bulk Mail", "Junk Mail", "Bulk"}

// IMAPChecker locates the test email over IMAP. It serves the
// providers without a usable REST API: Yahoo, ProtonMail (via the
// local bridge), and iCloud.
type IMAPChecker struct {
	provider models.Provider
	addr     string
	username string
	password string
}

// NewIMAPChecker builds an IMAP checker for the given provider's
// fixed test account.
func NewIMAPChecker(provider models.Provider, host string, port int, username, password string) *IMAPChecker {
	return &IMAPChecker{
		provider: provider,
		addr:     fmt.Sprintf("%s:%d", host, port),
		username: username,
		password: password,
	}
}

// Provider implements Checker.
func (c *IMAPChecker) Provider() models.Provider { return c.provider }

// Check logs into the test account and searches INBOX, then the
// provider's junk folder, for a message whose subject carries the
// test code.
func (c *IMAPChecker) Check(ctx context.Context, inboxEmail, testCode string) (*Outcome, error) {
	client, err := imapclient.DialTLS(c.addr, nil)
	if err != nil {
		return nil, &CheckerError{Provider: c.provider, Err: fmt.Errorf("connect %s: %w", c.addr, err)}
	}
	defer func() { _ = client.Logout().Wait() }()

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		return nil, &CheckerError{Provider: c.provider, Err: fmt.Errorf("login %s: %w", c.username, err)}
	}

	mailboxes := append([]string{"INBOX"}, spamMailboxes...)
	for _, mailbox := range mailboxes {
		if err := ctx.Err(); err != nil {
			return nil, &CheckerError{Provider: c.provider, Err: err}
		}

		if _, err := client.Select(mailbox, nil).Wait(); err != nil {
			// Junk folder names vary per provider; a missing mailbox
			// is expected, not an error.
			continue
		}

		criteria := &imap.SearchCriteria{
			Header: []imap.SearchCriteriaHeaderField{
				{Key: "Subject", Value: testCode},
			},
		}
		data, err := client.UIDSearch(criteria, nil).Wait()
		if err != nil {
			return nil, &CheckerError{Provider: c.provider, Err: fmt.Errorf("search %s: %w", mailbox, err)}
		}

		if len(data.AllUIDs()) > 0 {
			return &Outcome{
				Status: models.ResultReceived,
				Folder: folderForMailbox(mailbox),
			}, nil
		}
	}

	return &Outcome{Status: models.ResultNotReceived}, nil
}

// folderForMailbox maps an IMAP mailbox name onto a folder
// classification. IMAP providers have no promotions tab.
func folderForMailbox(mailbox string) models.Folder {
	if mailbox == "INBOX" {
		return models.FolderInbox
	}
	for _, spam := range spamMailboxes {
		if mailbox == spam {
			return models.FolderSpam
		}
	}
	return models.FolderUnknown
}
