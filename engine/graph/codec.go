package graph

import (
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/lisacharuel/Hackaton-Battery-Passport/engine/domain"
)

// Property maps omit nil optionals so that Neo4j never stores nulls.

func batteryToMap(b domain.Battery) map[string]any {
	m := map[string]any{
		"serialNumber": b.SerialNumber,
		"createdAt":    b.CreatedAt,
	}
	putStr(m, "category", b.Category)
	putStr(m, "composition", b.Composition)
	putStr(m, "recyclingSymbol", b.RecyclingSymbol)
	putStr(m, "wastePreventionInfo", b.WastePreventionInfo)
	putFloat(m, "massKg", b.MassKg)
	putFloat(m, "initialCapacitykWh", b.InitialCapacityKWh)
	putFloat(m, "minVoltageV", b.MinVoltageV)
	putFloat(m, "nominalVoltageV", b.NominalVoltageV)
	putFloat(m, "maxVoltageV", b.MaxVoltageV)
	putInt(m, "expectedLifetimeCycles", b.ExpectedLifetimeCycles)
	putTime(m, "manufacturingDate", b.ManufacturingDate)
	return m
}

func batteryFromProps(p map[string]any) domain.Battery {
	return domain.Battery{
		SerialNumber:           strProp(p, "serialNumber"),
		Category:               strProp(p, "category"),
		Composition:            strProp(p, "composition"),
		RecyclingSymbol:        strProp(p, "recyclingSymbol"),
		WastePreventionInfo:    strProp(p, "wastePreventionInfo"),
		MassKg:                 floatProp(p, "massKg"),
		InitialCapacityKWh:     floatProp(p, "initialCapacitykWh"),
		MinVoltageV:            floatProp(p, "minVoltageV"),
		NominalVoltageV:        floatProp(p, "nominalVoltageV"),
		MaxVoltageV:            floatProp(p, "maxVoltageV"),
		ExpectedLifetimeCycles: intProp(p, "expectedLifetimeCycles"),
		ManufacturingDate:      timeProp(p, "manufacturingDate"),
		CreatedAt:              timeValue(p, "createdAt"),
	}
}

func passportToMap(bp domain.Passport) map[string]any {
	m := map[string]any{
		"passportID":    bp.PassportID,
		"currentStatus": string(bp.CurrentStatus),
		"version":       bp.Version,
		"createdAt":     bp.CreatedAt,
		"updatedAt":     bp.UpdatedAt,
	}
	putTime(m, "commissioningDate", bp.CommissioningDate)
	putInt(m, "warrantyDurationYears", bp.WarrantyDurationYears)
	return m
}

func passportFromProps(p map[string]any, serial, ownerID string) domain.Passport {
	var version int64
	if v := intProp(p, "version"); v != nil {
		version = *v
	}
	return domain.Passport{
		PassportID:            strProp(p, "passportID"),
		SerialNumber:          serial,
		CurrentStatus:         domain.Status(strProp(p, "currentStatus")),
		Version:               version,
		OwnerID:               ownerID,
		CommissioningDate:     timeProp(p, "commissioningDate"),
		WarrantyDurationYears: intProp(p, "warrantyDurationYears"),
		CreatedAt:             timeValue(p, "createdAt"),
		UpdatedAt:             timeValue(p, "updatedAt"),
	}
}

func actorFromProps(p map[string]any) domain.Actor {
	return domain.Actor{
		ActorID: strProp(p, "actorID"),
		Name:    strProp(p, "name"),
		Role:    domain.Role(strProp(p, "role")),
	}
}

func locationFromProps(p map[string]any) domain.Location {
	return domain.Location{
		LocationID: strProp(p, "locationID"),
		Address:    strProp(p, "address"),
		Type:       strProp(p, "type"),
	}
}

func performanceToMap(perf domain.Performance) map[string]any {
	m := map[string]any{"timestamp": perf.Timestamp}
	putFloat(m, "stateOfHealthPercent", perf.StateOfHealthPercent)
	putFloat(m, "originalPowerkW", perf.OriginalPowerKW)
	putFloat(m, "capacityFadePercent", perf.CapacityFadePercent)
	putInt(m, "fullCycles", perf.FullCycles)
	return m
}

func performanceFromProps(p map[string]any) domain.Performance {
	return domain.Performance{
		StateOfHealthPercent: floatProp(p, "stateOfHealthPercent"),
		OriginalPowerKW:      floatProp(p, "originalPowerkW"),
		CapacityFadePercent:  floatProp(p, "capacityFadePercent"),
		FullCycles:           intProp(p, "fullCycles"),
		Timestamp:            timeValue(p, "timestamp"),
	}
}

func eventToMap(e domain.Event) map[string]any {
	return map[string]any{
		"eventID":     e.EventID,
		"timestamp":   e.Timestamp,
		"description": e.Description,
		"transition":  e.Transition,
		"fromStatus":  string(e.FromStatus),
		"toStatus":    string(e.ToStatus),
		"version":     e.Version,
	}
}

func eventFromProps(p map[string]any, actorID, passportID string) domain.Event {
	var version int64
	if v := intProp(p, "version"); v != nil {
		version = *v
	}
	return domain.Event{
		EventID:     strProp(p, "eventID"),
		Timestamp:   timeValue(p, "timestamp"),
		Description: strProp(p, "description"),
		Transition:  strProp(p, "transition"),
		FromStatus:  domain.Status(strProp(p, "fromStatus")),
		ToStatus:    domain.Status(strProp(p, "toStatus")),
		Version:     version,
		ActorID:     actorID,
		PassportID:  passportID,
	}
}

func putStr(m map[string]any, k, v string) {
	if v != "" {
		m[k] = v
	}
}

func putFloat(m map[string]any, k string, v *float64) {
	if v != nil {
		m[k] = *v
	}
}

func putInt(m map[string]any, k string, v *int64) {
	if v != nil {
		m[k] = *v
	}
}

func putTime(m map[string]any, k string, v *time.Time) {
	if v != nil {
		m[k] = v.UTC()
	}
}

func strProp(props map[string]any, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func floatProp(props map[string]any, key string) *float64 {
	switch v := props[key].(type) {
	case float64:
		return &v
	case int64:
		f := float64(v)
		return &f
	}
	return nil
}

func intProp(props map[string]any, key string) *int64 {
	switch v := props[key].(type) {
	case int64:
		return &v
	case float64:
		i := int64(v)
		return &i
	}
	return nil
}

func timeProp(props map[string]any, key string) *time.Time {
	var t time.Time
	switch v := props[key].(type) {
	case time.Time:
		t = v
	case dbtype.LocalDateTime:
		t = v.Time()
	case dbtype.Date:
		t = v.Time()
	case string:
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			parsed, err = time.Parse(time.DateOnly, v)
		}
		if err != nil {
			return nil
		}
		t = parsed
	default:
		return nil
	}
	t = t.UTC()
	return &t
}

func timeValue(props map[string]any, key string) time.Time {
	if t := timeProp(props, key); t != nil {
		return *t
	}
	return time.Time{}
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}
