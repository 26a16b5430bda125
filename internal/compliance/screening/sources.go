package screening

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

const feedUserAgent = "veridex-screening/1.0"

// Source supplies one watchlist feed. Fetch builds a fresh, unshared entity
// slice; the store takes ownership on Replace.
type Source interface {
	ID() string
	FetchEntities(ctx context.Context) ([]SanctionedEntity, error)
}

// StaticSource serves a fixed entity set. Used for local development and as
// the fixture source in tests; a production deployment configures feed
// endpoints instead.
type StaticSource struct {
	SourceID string
	Entities []SanctionedEntity
	Err      error
}

func (s *StaticSource) ID() string { return s.SourceID }

func (s *StaticSource) FetchEntities(ctx context.Context) ([]SanctionedEntity, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]SanctionedEntity, len(s.Entities))
	copy(out, s.Entities)
	return out, nil
}

// OFACSource pulls the OFAC SDN list. The published feed is tab-delimited
// text; digital currency addresses and aliases are extracted from the remarks
// column.
type OFACSource struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
	Logger   *zap.SugaredLogger
}

func (s *OFACSource) ID() string { return SourceOFAC }

func (s *OFACSource) FetchEntities(ctx context.Context) ([]SanctionedEntity, error) {
	body, err := fetchFeed(ctx, s.Client, s.Endpoint, s.APIKey)
	if err != nil {
		return nil, fmt.Errorf("fetch OFAC SDN list: %w", err)
	}
	return ParseSDNList(body), nil
}

// EUSource pulls the EU consolidated financial sanctions list, published as a
// JSON export.
type EUSource struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
	Logger   *zap.SugaredLogger
}

func (s *EUSource) ID() string { return SourceEU }

func (s *EUSource) FetchEntities(ctx context.Context) ([]SanctionedEntity, error) {
	body, err := fetchFeed(ctx, s.Client, s.Endpoint, s.APIKey)
	if err != nil {
		return nil, fmt.Errorf("fetch EU consolidated list: %w", err)
	}
	return ParseEUConsolidated(body)
}

// UNSource pulls the UN Security Council consolidated XML list.
type UNSource struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
	Logger   *zap.SugaredLogger
}

func (s *UNSource) ID() string { return SourceUN }

func (s *UNSource) FetchEntities(ctx context.Context) ([]SanctionedEntity, error) {
	body, err := fetchFeed(ctx, s.Client, s.Endpoint, s.APIKey)
	if err != nil {
		return nil, fmt.Errorf("fetch UN consolidated list: %w", err)
	}
	return ParseUNConsolidated(body)
}

func fetchFeed(ctx context.Context, client *http.Client, endpoint, apiKey string) ([]byte, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("no endpoint configured")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", feedUserAgent)
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

var (
	aliasPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)a\.k\.a\.?\s+'?([^';,.\n]+)'?`),
		regexp.MustCompile(`(?i)also\s+known\s+as\s+([^;,.\n]+)`),
		regexp.MustCompile(`(?i)f\.k\.a\.?\s+'?([^';,.\n]+)'?`),
	}
	digitalCurrencyPattern = regexp.MustCompile(`(?i)digital\s+currency\s+address\s*-\s*\w+\s+([0-9a-zA-Z]+)`)
	whitespacePattern      = regexp.MustCompile(`\s+`)
)

// ParseSDNList parses OFAC's tab-delimited SDN feed into entities. Malformed
// lines are skipped; the feed is best-effort by design.
func ParseSDNList(data []byte) []SanctionedEntity {
	lines := strings.Split(string(data), "\n")
	entities := make([]SanctionedEntity, 0, len(lines))

	for i, line := range lines {
		if i == 0 || strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 12 {
			continue
		}

		remarks := fields[11]
		entity := SanctionedEntity{
			ID:          "OFAC-" + strings.TrimSpace(fields[0]),
			Name:        cleanFeedName(cleanFeedName(fields[1]) + " " + cleanFeedName(fields[2])),
			EntityType:  mapSDNType(fields[3]),
			Programs:    splitPrograms(fields[4]),
			Aliases:     extractAliases(remarks),
			Addresses:   extractDigitalCurrencyAddresses(remarks),
			ListingDate: time.Now().UTC(),
		}
		if entity.Name == "" {
			continue
		}
		entities = append(entities, entity)
	}
	return entities
}

// unConsolidatedList mirrors the UN consolidated XML schema, reduced to the
// fields this engine matches on.
type unConsolidatedList struct {
	XMLName     xml.Name  `xml:"CONSOLIDATED_LIST"`
	Individuals []unEntry `xml:"INDIVIDUALS>INDIVIDUAL"`
	Entities    []unEntry `xml:"ENTITIES>ENTITY"`
}

type unEntry struct {
	DataID     string `xml:"DATAID"`
	FirstName  string `xml:"FIRST_NAME"`
	SecondName string `xml:"SECOND_NAME"`
	ThirdName  string `xml:"THIRD_NAME"`
	FourthName string `xml:"FOURTH_NAME"`
	ListType   string `xml:"UN_LIST_TYPE"`
	ListedOn   string `xml:"LISTED_ON"`
	Comments   string `xml:"COMMENTS1"`

	// the schema nests aliases under a different element per entry kind
	IndividualAliases []string `xml:"INDIVIDUAL_ALIAS>ALIAS_NAME"`
	EntityAliases     []string `xml:"ENTITY_ALIAS>ALIAS_NAME"`
}

// ParseUNConsolidated parses the UN Security Council consolidated XML list.
func ParseUNConsolidated(data []byte) ([]SanctionedEntity, error) {
	var list unConsolidatedList
	if err := xml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse UN consolidated XML: %w", err)
	}

	entities := make([]SanctionedEntity, 0, len(list.Individuals)+len(list.Entities))
	for _, entry := range list.Individuals {
		entities = append(entities, unEntryToEntity(entry, EntityTypeIndividual))
	}
	for _, entry := range list.Entities {
		entities = append(entities, unEntryToEntity(entry, EntityTypeEntity))
	}
	return entities, nil
}

// euConsolidatedExport mirrors the EU consolidated list's JSON export. An
// entity may carry several nameAlias records; the first is the listing name
// and the rest screen as aliases.
type euConsolidatedExport struct {
	Export struct {
		SanctionEntity []euSanctionEntity `json:"sanctionEntity"`
	} `json:"export"`
}

type euSanctionEntity struct {
	LogicalID int           `json:"logicalId"`
	UnitType  string        `json:"unitType"`
	NameAlias []euNameAlias `json:"nameAlias"`
	Programme string        `json:"programme"`
}

type euNameAlias struct {
	FirstName  string `json:"firstName"`
	MiddleName string `json:"middleName"`
	LastName   string `json:"lastName"`
	WholeName  string `json:"wholeName"`
}

// ParseEUConsolidated parses the EU consolidated financial sanctions JSON
// export. Entries without a usable name are skipped.
func ParseEUConsolidated(data []byte) ([]SanctionedEntity, error) {
	var export euConsolidatedExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("parse EU consolidated JSON: %w", err)
	}

	entities := make([]SanctionedEntity, 0, len(export.Export.SanctionEntity))
	for _, raw := range export.Export.SanctionEntity {
		var names []string
		for _, alias := range raw.NameAlias {
			if name := cleanFeedName(euAliasName(alias)); name != "" {
				names = append(names, name)
			}
		}
		if len(names) == 0 {
			continue
		}

		entities = append(entities, SanctionedEntity{
			ID:         fmt.Sprintf("EU-%d", raw.LogicalID),
			Name:       names[0],
			Aliases:    names[1:],
			EntityType: mapEUUnitType(raw.UnitType),
			Programs:   splitPrograms(raw.Programme),
		})
	}
	return entities, nil
}

func euAliasName(alias euNameAlias) string {
	if alias.WholeName != "" {
		return alias.WholeName
	}
	return strings.Join([]string{alias.FirstName, alias.MiddleName, alias.LastName}, " ")
}

func mapEUUnitType(unitType string) EntityType {
	switch strings.ToLower(strings.TrimSpace(unitType)) {
	case "p", "person", "individual":
		return EntityTypeIndividual
	default:
		return EntityTypeEntity
	}
}

func unEntryToEntity(entry unEntry, kind EntityType) SanctionedEntity {
	raw := append(entry.IndividualAliases, entry.EntityAliases...)
	aliases := make([]string, 0, len(raw))
	for _, alias := range raw {
		if alias = cleanFeedName(alias); alias != "" {
			aliases = append(aliases, alias)
		}
	}
	aliases = append(aliases, extractAliases(entry.Comments)...)

	return SanctionedEntity{
		ID:          "UN-" + strings.TrimSpace(entry.DataID),
		Name:        cleanFeedName(strings.Join([]string{entry.FirstName, entry.SecondName, entry.ThirdName, entry.FourthName}, " ")),
		EntityType:  kind,
		Programs:    splitPrograms(entry.ListType),
		Aliases:     aliases,
		Addresses:   extractDigitalCurrencyAddresses(entry.Comments),
		ListingDate: parseFeedDate(entry.ListedOn),
	}
}

func mapSDNType(sdnType string) EntityType {
	switch strings.ToLower(strings.TrimSpace(sdnType)) {
	case "individual":
		return EntityTypeIndividual
	case "vessel":
		return EntityTypeVessel
	case "aircraft":
		return EntityTypeAircraft
	default:
		return EntityTypeEntity
	}
}

func cleanFeedName(name string) string {
	name = strings.TrimSpace(name)
	name = whitespacePattern.ReplaceAllString(name, " ")
	name = strings.Trim(name, `"`)
	if name == "-0-" { // OFAC's empty-column marker
		return ""
	}
	return name
}

func splitPrograms(raw string) []string {
	var programs []string
	for _, p := range strings.Split(raw, ";") {
		if p = strings.TrimSpace(p); p != "" {
			programs = append(programs, p)
		}
	}
	return programs
}

func extractAliases(remarks string) []string {
	var aliases []string
	for _, pattern := range aliasPatterns {
		for _, match := range pattern.FindAllStringSubmatch(remarks, -1) {
			if len(match) > 1 {
				if alias := cleanFeedName(match[1]); alias != "" {
					aliases = append(aliases, alias)
				}
			}
		}
	}
	return aliases
}

func extractDigitalCurrencyAddresses(remarks string) []string {
	var addrs []string
	for _, match := range digitalCurrencyPattern.FindAllStringSubmatch(remarks, -1) {
		if len(match) > 1 {
			addrs = append(addrs, NormalizeAddress(match[1]))
		}
	}
	return addrs
}

func parseFeedDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, format := range []string{"2006-01-02", "02 Jan 2006", "2006-01-02T15:04:05Z"} {
		if t, err := time.Parse(format, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}
