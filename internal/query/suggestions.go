package query

import (
	"github.com/google/uuid"

	"github.com/davidmoltin/site-integrations/internal/models"
	"github.com/davidmoltin/site-integrations/internal/platforms"
)

type suggestionRule struct {
	actionType  string
	platforms   []models.Platform
	impact      models.ImpactLevel
	description string
}

var suggestionRules = map[models.IntentType][]suggestionRule{
	models.IntentCommunication: {{
		actionType:  models.ActionSendMessage,
		platforms:   []models.Platform{models.PlatformWhatsApp},
		impact:      models.ImpactMedium,
		description: "Send an update to the site team",
	}},
	models.IntentSchedule: {{
		actionType:  models.ActionScheduleMeeting,
		platforms:   []models.Platform{models.PlatformGoogleWorkspace, models.PlatformWhatsApp},
		impact:      models.ImpactMedium,
		description: "Create a calendar event and invite the team",
	}},
	models.IntentDocument: {{
		actionType:  models.ActionShareDocument,
		platforms:   []models.Platform{models.PlatformGoogleWorkspace, models.PlatformWhatsApp},
		impact:      models.ImpactLow,
		description: "Share the document with the site team",
	}},
	models.IntentSafety: {{
		actionType:  models.ActionSafetyAlertBroadcast,
		platforms:   []models.Platform{models.PlatformWhatsApp, models.PlatformGoogleWorkspace},
		impact:      models.ImpactHigh,
		description: "Broadcast a safety alert, file the incident report and book an inspection",
	}},
	models.IntentProjectStatus: {{
		actionType:  models.ActionCrossPlatformUpdate,
		platforms:   []models.Platform{models.PlatformGoogleWorkspace, models.PlatformWhatsApp},
		impact:      models.ImpactMedium,
		description: "Publish a status update to the project folder and the team chat",
	}},
	models.IntentProgress: {{
		actionType:  models.ActionCrossPlatformUpdate,
		platforms:   []models.Platform{models.PlatformGoogleWorkspace, models.PlatformWhatsApp},
		impact:      models.ImpactMedium,
		description: "Publish a progress report to the project folder and the team chat",
	}},
}

// suggestActions proposes follow-up actions for the intent. Actions that need
// a platform which is not registered are left out.
func suggestActions(intent *models.QueryIntent, registry *platforms.Registry) []models.PlatformAction {
	out := make([]models.PlatformAction, 0)
	for _, rule := range suggestionRules[intent.Type] {
		if !allRegistered(registry, rule.platforms) {
			continue
		}
		params := map[string]interface{}{}
		if intent.Entities.ProjectID != "" {
			params["project_id"] = intent.Entities.ProjectID
		}
		if len(intent.Entities.Recipients) > 0 {
			recipients := make([]interface{}, len(intent.Entities.Recipients))
			for i, r := range intent.Entities.Recipients {
				recipients[i] = r
			}
			params["recipients"] = recipients
		}
		out = append(out, models.PlatformAction{
			ID:                   uuid.New().String(),
			Type:                 rule.actionType,
			Platforms:            append([]models.Platform(nil), rule.platforms...),
			Parameters:           params,
			ConfirmationRequired: true,
			EstimatedImpact:      rule.impact,
			Description:          rule.description,
		})
	}
	return out
}

func allRegistered(registry *platforms.Registry, ps []models.Platform) bool {
	for _, p := range ps {
		if !registry.Has(p) {
			return false
		}
	}
	return true
}
