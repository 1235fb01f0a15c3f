package models

// TriggerDescriptor is read-only metadata used to populate workflow editors.
type TriggerDescriptor struct {
	Type         TriggerType    `json:"type"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	ConfigSchema map[string]any `json:"config_schema"`
}

func stringFilter(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// TriggerCatalog lists every trigger type a workflow may declare.
var TriggerCatalog = []TriggerDescriptor{
	{
		Type:         TriggerManual,
		Name:         "Manual",
		Description:  "Started by an operator through the API",
		ConfigSchema: map[string]any{"type": "object"},
	},
	{
		Type:        TriggerInvestmentCreated,
		Name:        "Investment created",
		Description: "Fires when an investor commits to a deal",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"deal_id":         stringFilter("Only investments into this deal"),
				"investment_type": stringFilter("lump_sum or sip"),
			},
		},
	},
	{
		Type:        TriggerDealStatusChanged,
		Name:        "Deal status changed",
		Description: "Fires when a deal moves between lifecycle states",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"deal_id":     stringFilter("Only this deal"),
				"from_status": stringFilter("Previous status"),
				"to_status":   stringFilter("New status"),
			},
		},
	},
	{
		Type:        TriggerPayoutCreated,
		Name:        "Payout created",
		Description: "Fires when a payout is scheduled for investors",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"deal_id":     stringFilter("Only payouts of this deal"),
				"payout_type": stringFilter("rental, interest or exit"),
			},
		},
	},
	{
		Type:        TriggerKYCStatusChanged,
		Name:        "KYC status changed",
		Description: "Fires when a user's verification status changes",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status": stringFilter("New KYC status"),
			},
		},
	},
	{
		Type:        TriggerSchedule,
		Name:        "Schedule",
		Description: "Fires on a cron schedule",
		ConfigSchema: map[string]any{
			"type":     "object",
			"required": []any{"cron"},
			"properties": map[string]any{
				"cron": stringFilter("Standard five-field cron expression"),
			},
		},
	},
}
