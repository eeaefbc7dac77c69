package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/davidmoltin/site-integrations/internal/models"
)

const apologySummary = "Sorry, none of the connected platforms could be reached to answer this right now. Please try again in a few minutes."

var intentPhrases = map[models.IntentType]string{
	models.IntentProjectStatus: "project activity",
	models.IntentSchedule:      "scheduled events",
	models.IntentCommunication: "team messages",
	models.IntentDocument:      "document changes",
	models.IntentSafety:        "safety reports",
	models.IntentProgress:      "progress updates",
	models.IntentGeneral:       "recent activity",
}

// details flattens successful sources into one list, newest first
func details(sources map[models.Platform]models.SourceResult) []models.Detail {
	out := make([]models.Detail, 0)
	for _, src := range sources {
		if src.Status != models.SourceSuccess {
			continue
		}
		for _, item := range src.Data {
			out = append(out, models.Detail{
				Source:    src.Platform,
				Timestamp: item.Timestamp,
				Kind:      item.Kind,
				EntityID:  item.EntityID,
				Title:     item.Title,
				Text:      item.Summary,
				Status:    item.Status,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Source < out[j].Source
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// conflicts reports entities whose latest status differs between platforms.
// Details must be sorted newest first.
func conflicts(ds []models.Detail) []models.Conflict {
	latest := make(map[string]map[models.Platform]string)
	var order []string
	for _, d := range ds {
		if d.EntityID == "" || d.Status == "" {
			continue
		}
		byPlatform, ok := latest[d.EntityID]
		if !ok {
			byPlatform = make(map[models.Platform]string)
			latest[d.EntityID] = byPlatform
			order = append(order, d.EntityID)
		}
		if _, seen := byPlatform[d.Source]; !seen {
			byPlatform[d.Source] = d.Status
		}
	}

	out := make([]models.Conflict, 0)
	for _, entity := range order {
		values := latest[entity]
		if len(values) < 2 || !differ(values) {
			continue
		}
		out = append(out, models.Conflict{
			EntityID:    entity,
			Field:       "status",
			Values:      values,
			Description: describeConflict(entity, values),
		})
	}
	return out
}

func differ(values map[models.Platform]string) bool {
	var first string
	for _, v := range values {
		if first == "" {
			first = v
			continue
		}
		if !strings.EqualFold(v, first) {
			return true
		}
	}
	return false
}

func describeConflict(entity string, values map[models.Platform]string) string {
	parts := make([]string, 0, len(values))
	for _, p := range sortedPlatforms(values) {
		parts = append(parts, fmt.Sprintf("%q on %s", values[p], p))
	}
	return fmt.Sprintf("%s is reported as %s", entity, strings.Join(parts, " but "))
}

func sortedPlatforms[V any](m map[models.Platform]V) []models.Platform {
	out := make([]models.Platform, 0, len(m))
	for p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// summarize builds the deterministic summary from what the reachable platforms reported
func summarize(intent models.IntentType, sources map[models.Platform]models.SourceResult, ds []models.Detail, cs []models.Conflict) string {
	var ok, failed []string
	for _, p := range sortedPlatforms(sources) {
		if sources[p].Status == models.SourceSuccess {
			ok = append(ok, string(p))
		} else {
			failed = append(failed, string(p))
		}
	}
	if len(ok) == 0 {
		return apologySummary
	}

	phrase := intentPhrases[intent]
	if phrase == "" {
		phrase = intentPhrases[models.IntentGeneral]
	}

	var sb strings.Builder
	if len(ds) == 0 {
		fmt.Fprintf(&sb, "No %s found on %s.", phrase, strings.Join(ok, " or "))
	} else {
		fmt.Fprintf(&sb, "Found %d %s across %s.", len(ds), phrase, strings.Join(ok, " and "))
		if intent == models.IntentSafety {
			sb.WriteString(" Review each report and confirm follow-up actions.")
		}
		sb.WriteString(" Latest: ")
		for i, d := range ds {
			if i == 3 {
				break
			}
			if i > 0 {
				sb.WriteString("; ")
			}
			sb.WriteString(d.Title)
			if d.Status != "" {
				fmt.Fprintf(&sb, " (%s)", d.Status)
			}
		}
		sb.WriteString(".")
	}

	if len(cs) > 0 {
		fmt.Fprintf(&sb, " %d item(s) are reported differently between platforms and need checking.", len(cs))
	}
	if len(failed) > 0 {
		fmt.Fprintf(&sb, " %s could not be reached, so this answer may be incomplete.", strings.Join(failed, " and "))
	}
	return sb.String()
}

// summaryLines renders details for the LLM summary prompt
func summaryLines(ds []models.Detail, limit int) []string {
	lines := make([]string, 0, min(len(ds), limit))
	for i, d := range ds {
		if i == limit {
			break
		}
		line := fmt.Sprintf("[%s %s] %s", d.Source, d.Timestamp.Format("2006-01-02 15:04"), d.Title)
		if d.Status != "" {
			line += " - " + d.Status
		}
		if d.Text != "" {
			line += ": " + d.Text
		}
		lines = append(lines, line)
	}
	return lines
}
