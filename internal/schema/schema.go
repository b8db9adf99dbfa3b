// Package schema is the static per-object-type index configuration: physical
// settings, field mappings, match fields with boosts, and the system field
// names every document carries.
package schema

import (
	"strings"

	"github.com/ledgerkit/searchd/internal/engine"
)

// System field names present across indices.
const (
	// TenantField marks the owning tenant on every document.
	TenantField = "company_key"
	// CustomerField marks customer-scoped documents (invoices, payments, ...).
	CustomerField = "customer_id"
)

// Canonical index names, one per searchable object type.
const (
	TypeCustomer     = "customer"
	TypeContact      = "contact"
	TypeCreditNote   = "creditnote"
	TypeEstimate     = "estimate"
	TypeInvoice      = "invoice"
	TypePayment      = "payment"
	TypeSubscription = "subscription"
	TypeParticipant  = "participant"

	// TenantsIndex holds one presence document per tenant.
	TenantsIndex = "tenants"
)

const (
	defaultShards = 2
	// invoiceShards is elevated: invoices dominate document volume.
	invoiceShards   = 6
	defaultReplicas = 1
)

type typeConfig struct {
	shards      int
	mapping     engine.Mapping
	matchFields []string
	boosts      map[string]float64
	dateFields  []string

	// excludeFromAll keeps a type out of search-all; it is only searched
	// when explicitly requested (is:<type> or an explicit index).
	excludeFromAll bool
}

// dependentTypes are cascade targets when a customer document is deleted:
// the cluster has no referential integrity, so the driver reproduces the
// foreign-key fan-out manually.
var dependentTypes = []string{
	TypeContact, TypeCreditNote, TypeEstimate, TypeInvoice, TypePayment, TypeSubscription,
}

var types = map[string]typeConfig{
	TypeCustomer: {
		shards: defaultShards,
		mapping: mapping(map[string]any{
			"name":       keywordCI(),
			"email":      keywordCI(),
			"phone":      keyword(),
			"vat_number": keyword(),
			"notes":      text(),
			"balance":    floatField(),
			"archived":   boolField(),
			"created_at": date(),
			"metadata":   keyword(),
		}),
		matchFields: []string{"name", "email", "phone", "vat_number"},
		boosts:      map[string]float64{"name": 3},
		dateFields:  []string{"created_at"},
	},
	TypeContact: {
		shards: defaultShards,
		mapping: mapping(map[string]any{
			"first_name": keywordCI(),
			"last_name":  keywordCI(),
			"email":      keywordCI(),
			"customer":   customerSub(),
		}),
		matchFields: []string{"first_name", "last_name", "email"},
	},
	TypeCreditNote: {
		shards: defaultShards,
		mapping: mapping(map[string]any{
			"number":   keyword(),
			"status":   keyword(),
			"total":    floatField(),
			"date":     date(),
			"customer": customerSub(),
			"metadata": keyword(),
		}),
		matchFields: []string{"number", "customer.name"},
		boosts:      map[string]float64{"number": 2},
		dateFields:  []string{"date"},
	},
	TypeEstimate: {
		shards: defaultShards,
		mapping: mapping(map[string]any{
			"number":      keyword(),
			"status":      keyword(),
			"total":       floatField(),
			"date":        date(),
			"valid_until": date(),
			"customer":    customerSub(),
			"metadata":    keyword(),
		}),
		matchFields: []string{"number", "customer.name"},
		boosts:      map[string]float64{"number": 2},
		dateFields:  []string{"date", "valid_until"},
	},
	TypeInvoice: {
		shards: invoiceShards,
		mapping: mapping(map[string]any{
			"number":   keyword(),
			"status":   keyword(),
			"total":    floatField(),
			"balance":  floatField(),
			"date":     date(),
			"due_date": date(),
			"notes":    text(),
			"customer": customerSub(),
			"metadata": keyword(),
		}),
		matchFields: []string{"number", "customer.name", "notes"},
		boosts:      map[string]float64{"number": 2},
		dateFields:  []string{"date", "due_date"},
	},
	TypePayment: {
		shards: defaultShards,
		mapping: mapping(map[string]any{
			"number":    keyword(),
			"reference": keyword(),
			"amount":    floatField(),
			"date":      date(),
			"customer":  customerSub(),
			"metadata":  keyword(),
		}),
		matchFields: []string{"number", "reference", "customer.name"},
		dateFields:  []string{"date"},
	},
	TypeSubscription: {
		shards: defaultShards,
		mapping: mapping(map[string]any{
			"plan_name":  keywordCI(),
			"status":     keyword(),
			"quantity":   longField(),
			"start_date": date(),
			"end_date":   date(),
			"customer":   customerSub(),
			"metadata":   keyword(),
		}),
		matchFields: []string{"plan_name", "customer.name"},
		dateFields:  []string{"start_date", "end_date"},
	},
	// participant has no explicit mapping: dynamic field inference covers it,
	// and it only surfaces when asked for by name.
	TypeParticipant: {
		shards:         defaultShards,
		matchFields:    []string{"name", "email"},
		excludeFromAll: true,
	},
}

// Normalize returns the canonical index name: everything before the first
// '-'. Rebuild indices carry a generated suffix ("invoice-3f2a...") that must
// never leak into configuration lookups.
func Normalize(name string) string {
	if i := strings.IndexByte(name, '-'); i >= 0 {
		return name[:i]
	}
	return name
}

// AllTypes returns every searchable object type in stable order.
func AllTypes() []string {
	return []string{
		TypeCustomer, TypeContact, TypeCreditNote, TypeEstimate,
		TypeInvoice, TypePayment, TypeSubscription, TypeParticipant,
	}
}

// DependentTypes returns the types cascade-deleted with a customer.
func DependentTypes() []string {
	out := make([]string, len(dependentTypes))
	copy(out, dependentTypes)
	return out
}

// SettingsFor returns the physical settings for an index name.
func SettingsFor(name string) engine.Settings {
	shards := defaultShards
	if cfg, ok := types[Normalize(name)]; ok && cfg.shards > 0 {
		shards = cfg.shards
	}
	return engine.Settings{Shards: shards, Replicas: defaultReplicas}
}

// MappingFor returns the static mapping for an index name. ok is false for
// types that rely on dynamic field inference; that is not an error.
func MappingFor(name string) (engine.Mapping, bool) {
	cfg, ok := types[Normalize(name)]
	if !ok || cfg.mapping == nil {
		return nil, false
	}
	return cfg.mapping, true
}

// MatchFields returns the free-text match fields for an index name.
func MatchFields(name string) []string {
	return types[Normalize(name)].matchFields
}

// Boost returns the configured boost weight for a field of an index name.
func Boost(name, field string) (float64, bool) {
	b, ok := types[Normalize(name)].boosts[field]
	return b, ok
}

// DateFields returns the fields stored as YYYY-MM-DD strings for a type.
func DateFields(name string) []string {
	return types[Normalize(name)].dateFields
}

// ExcludedFromSearchAll reports whether a type is searched only on request.
func ExcludedFromSearchAll(name string) bool {
	return types[Normalize(name)].excludeFromAll
}

// IsType reports whether name (normalized) is a known object type.
func IsType(name string) bool {
	_, ok := types[Normalize(name)]
	return ok
}

func mapping(props map[string]any) engine.Mapping {
	props[TenantField] = keyword()
	if _, ok := props["customer"]; ok {
		props[CustomerField] = keyword()
	}
	return engine.Mapping{"properties": props}
}

func keyword() map[string]any { return map[string]any{"type": "keyword"} }

func keywordCI() map[string]any {
	return map[string]any{"type": "keyword", "normalizer": "lowercase"}
}

func text() map[string]any { return map[string]any{"type": "text"} }

func date() map[string]any {
	return map[string]any{"type": "date", "format": "yyyy-MM-dd"}
}

func floatField() map[string]any { return map[string]any{"type": "float"} }

func longField() map[string]any { return map[string]any{"type": "long"} }

func boolField() map[string]any { return map[string]any{"type": "boolean"} }

// customerSub is the embedded customer-name sub-document carried by every
// customer-scoped type.
func customerSub() map[string]any {
	return map[string]any{
		"properties": map[string]any{
			"id":   keyword(),
			"name": keywordCI(),
		},
	}
}
