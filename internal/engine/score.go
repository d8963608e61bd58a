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

package engine

import (
	"math"

	"github.com/postlab/deliverability/internal/models"
)

// Per-result point weights. A message that reached the inbox scores
// full marks, the promotions tab half, spam nothing.
const (
	pointsInbox      = 100
	pointsPromotions = 50
)

// Score computes the deliverability percentage from a session's
// terminal results. Errored results are infrastructure failures, not
// deliverability failures, and are excluded from both numerator and
// denominator. A run in which every provider errored scores 0.
func Score(results []models.TestResult) int {
	points := 0
	counted := 0

	for _, r := range results {
		switch r.Status {
		case models.ResultReceived:
			counted++
			switch r.Folder {
			case models.FolderInbox:
				points += pointsInbox
			case models.FolderPromotions:
				points += pointsPromotions
			}
			// spam and unknown score zero
		case models.ResultNotReceived:
			counted++
		case models.ResultError:
			// excluded
		}
	}

	if counted == 0 {
		return 0
	}
	return int(math.Round(float64(points) / float64(counted*pointsInbox) * 100))
}
