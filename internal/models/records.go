package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const unnamed = "Unnamed"

// Database is a database connection registered in Metabase.
//
// Defaults: Engine "unknown"; Description, Host, DBName empty; Port nil;
// Features empty.
type Database struct {
	ID          int
	Name        string
	Engine      string
	Description string
	Host        string
	Port        *int
	// DBName reads details.db, falling back to details.dbname.
	DBName   string
	Features []string
}

// DatabaseFrom builds a Database from a payload object.
func DatabaseFrom(r gjson.Result) (Database, error) {
	id, err := requiredInt(r, "database", "id")
	if err != nil {
		return Database{}, err
	}
	name, err := requiredString(r, "database", "name")
	if err != nil {
		return Database{}, err
	}

	db := Database{
		ID:          id,
		Name:        name,
		Engine:      optString(r, "engine", "unknown"),
		Description: optString(r, "description", ""),
	}

	details := r.Get("details")
	db.Host = optString(details, "host", "")
	db.Port = optIntPtr(details, "port")
	db.DBName = optString(details, "db", "")
	if db.DBName == "" {
		db.DBName = optString(details, "dbname", "")
	}

	for _, f := range r.Get("features").Array() {
		db.Features = append(db.Features, f.String())
	}
	return db, nil
}

// Field is a column of a table.
//
// Defaults: DisplayName falls back to Name, Name to "unknown", BaseType to
// "unknown".
type Field struct {
	ID          *int
	Name        string
	DisplayName string
	BaseType    string
	Description string
}

// FieldFrom builds a Field. It never fails.
func FieldFrom(r gjson.Result) Field {
	f := Field{
		ID:          optIntPtr(r, "id"),
		Name:        optString(r, "name", "unknown"),
		BaseType:    optString(r, "base_type", "unknown"),
		Description: optString(r, "description", ""),
	}
	f.DisplayName = optString(r, "display_name", f.Name)
	return f
}

// Table is a table known to Metabase.
//
// Defaults: DisplayName falls back to Name; Schema and Description empty;
// DatabaseID nil; Fields empty.
type Table struct {
	ID          int
	Name        string
	DisplayName string
	Schema      string
	Description string
	DatabaseID  *int
	Fields      []Field
}

// TableFrom builds a Table from a payload object.
func TableFrom(r gjson.Result) (Table, error) {
	id, err := requiredInt(r, "table", "id")
	if err != nil {
		return Table{}, err
	}
	name, err := requiredString(r, "table", "name")
	if err != nil {
		return Table{}, err
	}

	t := Table{
		ID:          id,
		Name:        name,
		DisplayName: optString(r, "display_name", name),
		Schema:      optString(r, "schema", ""),
		Description: optString(r, "description", ""),
		DatabaseID:  optIntPtr(r, "db_id"),
	}
	for _, f := range r.Get("fields").Array() {
		t.Fields = append(t.Fields, FieldFrom(f))
	}
	return t, nil
}

// TemplateTag is a parameter declared by a native query.
type TemplateTag struct {
	Name        string
	DisplayName string
	Type        string
}

// Card is a saved question.
//
// Defaults: Description, Display, QueryType empty; DatabaseID, CollectionID,
// CreatorID nil. NativeQuery is set only for native cards; StructuredQuery
// holds the query-builder JSON for other cards.
type Card struct {
	ID           int
	Name         string
	Description  string
	Display      string
	DatabaseID   *int
	CollectionID *int
	QueryType    string
	CreatorID    *int

	DatasetQuery    json.RawMessage
	NativeQuery     string
	StructuredQuery json.RawMessage
	TemplateTags    []TemplateTag
}

// CardFrom builds a Card from a payload object.
func CardFrom(r gjson.Result) (Card, error) {
	id, err := requiredInt(r, "card", "id")
	if err != nil {
		return Card{}, err
	}
	name, err := requiredString(r, "card", "name")
	if err != nil {
		return Card{}, err
	}

	c := Card{
		ID:           id,
		Name:         name,
		Description:  optString(r, "description", ""),
		Display:      optString(r, "display", ""),
		DatabaseID:   optIntPtr(r, "database_id"),
		CollectionID: optIntPtr(r, "collection_id"),
		QueryType:    optString(r, "query_type", ""),
		CreatorID:    optIntPtr(r, "creator_id"),
	}

	dq := r.Get("dataset_query")
	if dq.IsObject() {
		c.DatasetQuery = json.RawMessage(dq.Raw)
		c.NativeQuery = dq.Get("native.query").String()
		if q := dq.Get("query"); q.IsObject() && len(q.Map()) > 0 {
			c.StructuredQuery = json.RawMessage(q.Raw)
		}
		dq.Get("native.template-tags").ForEach(func(key, tag gjson.Result) bool {
			c.TemplateTags = append(c.TemplateTags, TemplateTag{
				Name:        key.String(),
				DisplayName: optString(tag, "display-name", key.String()),
				Type:        optString(tag, "type", "unknown"),
			})
			return true
		})
	}
	return c, nil
}

// DashboardCard is the placement of one card on one dashboard.
//
// Defaults: CardID 0, CardName "Unnamed", Row and Col 0, SizeX and SizeY 4.
type DashboardCard struct {
	ID       int
	CardID   int
	CardName string
	Row      int
	Col      int
	SizeX    int
	SizeY    int
}

// DashboardCardFrom builds a DashboardCard from a dashcard payload object.
func DashboardCardFrom(r gjson.Result) (DashboardCard, error) {
	id, err := requiredInt(r, "dashboard card", "id")
	if err != nil {
		return DashboardCard{}, err
	}
	card := r.Get("card")
	return DashboardCard{
		ID:       id,
		CardID:   optInt(card, "id", 0),
		CardName: optString(card, "name", unnamed),
		Row:      optInt(r, "row", 0),
		Col:      optInt(r, "col", 0),
		SizeX:    optInt(r, "size_x", 4),
		SizeY:    optInt(r, "size_y", 4),
	}, nil
}

// Parameter is a dashboard filter.
type Parameter struct {
	Name string
	Type string
	Slug string
}

// Dashboard is a dashboard with its attached cards.
//
// Defaults: Description empty; CollectionID, CreatorID nil; Cards and
// Parameters empty. Parameter Name defaults to "unnamed" and Type to
// "unknown".
type Dashboard struct {
	ID           int
	Name         string
	Description  string
	CollectionID *int
	CreatorID    *int
	Cards        []DashboardCard
	Parameters   []Parameter
}

// dashcards returns the dashboard's dashcard entries. Servers before 0.47
// call the list "ordered_cards"; it is read only when "dashcards" is absent.
// TODO: drop the ordered_cards fallback once 0.47 is the minimum supported server.
func dashcards(r gjson.Result) []gjson.Result {
	if dc := r.Get("dashcards"); dc.Exists() {
		return dc.Array()
	}
	return r.Get("ordered_cards").Array()
}

// DashboardFrom builds a Dashboard from a payload object. Dashcards without
// an attached card (text and heading cards) are skipped.
func DashboardFrom(r gjson.Result) (Dashboard, error) {
	id, err := requiredInt(r, "dashboard", "id")
	if err != nil {
		return Dashboard{}, err
	}
	name, err := requiredString(r, "dashboard", "name")
	if err != nil {
		return Dashboard{}, err
	}

	d := Dashboard{
		ID:           id,
		Name:         name,
		Description:  optString(r, "description", ""),
		CollectionID: optIntPtr(r, "collection_id"),
		CreatorID:    optIntPtr(r, "creator_id"),
	}

	for _, dc := range dashcards(r) {
		if !truthy(dc.Get("card")) {
			continue
		}
		card, err := DashboardCardFrom(dc)
		if err != nil {
			return Dashboard{}, err
		}
		d.Cards = append(d.Cards, card)
	}

	for _, p := range r.Get("parameters").Array() {
		d.Parameters = append(d.Parameters, Parameter{
			Name: optString(p, "name", "unnamed"),
			Type: optString(p, "type", "unknown"),
			Slug: optString(p, "slug", ""),
		})
	}
	return d, nil
}

// RawDashcards returns the dashcard objects of a dashboard payload verbatim,
// so the list can be modified and sent back. It is never nil.
func RawDashcards(data []byte) []json.RawMessage {
	out := make([]json.RawMessage, 0)
	for _, dc := range dashcards(gjson.ParseBytes(data)) {
		out = append(out, json.RawMessage(dc.Raw))
	}
	return out
}

// DashcardRef is a lightweight view of every dashcard on a dashboard,
// including those without a card. CardID is zero for text and layout cards.
type DashcardRef struct {
	ID       int
	CardID   int
	CardName string
}

// DashcardRefs lists every dashcard of a dashboard payload. The card id is
// read from the attached card, falling back to the dashcard's card_id.
func DashcardRefs(r gjson.Result) []DashcardRef {
	var refs []DashcardRef
	for _, dc := range dashcards(r) {
		card := dc.Get("card")
		ref := DashcardRef{ID: optInt(dc, "id", 0)}
		if truthy(card) {
			ref.CardID = optInt(card, "id", 0)
			ref.CardName = optString(card, "name", "")
		} else {
			ref.CardID = optInt(dc, "card_id", 0)
		}
		refs = append(refs, ref)
	}
	return refs
}

// Collection is a folder of cards, dashboards and collections.
//
// ID is kept as text because the root collection is addressed as "root".
// Defaults: Description empty; ParentID and PersonalOwnerID nil; Location "/".
type Collection struct {
	ID              string
	Name            string
	Description     string
	ParentID        *int
	PersonalOwnerID *int
	Location        string
}

// CollectionFrom builds a Collection from a payload object.
func CollectionFrom(r gjson.Result) (Collection, error) {
	id, err := requiredString(r, "collection", "id")
	if err != nil {
		return Collection{}, err
	}
	name, err := requiredString(r, "collection", "name")
	if err != nil {
		return Collection{}, err
	}
	return Collection{
		ID:              id,
		Name:            name,
		Description:     optString(r, "description", ""),
		ParentID:        optIntPtr(r, "parent_id"),
		PersonalOwnerID: optIntPtr(r, "personal_owner_id"),
		Location:        optString(r, "location", "/"),
	}, nil
}

// Parent returns the parent collection ID: ParentID when set, otherwise the
// last segment of Location. Top-level collections have no parent.
func (c Collection) Parent() *int {
	if c.ParentID != nil {
		return c.ParentID
	}
	segs := strings.Split(strings.Trim(c.Location, "/"), "/")
	n, err := strconv.Atoi(segs[len(segs)-1])
	if err != nil {
		return nil
	}
	return &n
}

// Item is an entry of a collection listing or a search result.
//
// Defaults: Model "unknown", Name "Unnamed", QueryType "unknown";
// DatabaseID nil; CollectionName "Root".
type Item struct {
	ID             string
	Model          string
	Name           string
	Description    string
	QueryType      string
	DatabaseID     *int
	CollectionName string
}

// ItemFrom builds an Item. It never fails; a missing id renders as empty.
func ItemFrom(r gjson.Result) Item {
	it := Item{
		ID:             optString(r, "id", ""),
		Model:          optString(r, "model", "unknown"),
		Name:           optString(r, "name", unnamed),
		Description:    optString(r, "description", ""),
		QueryType:      optString(r, "query_type", "unknown"),
		DatabaseID:     optIntPtr(r, "database_id"),
		CollectionName: "Root",
	}
	if c := r.Get("collection"); c.IsObject() {
		it.CollectionName = optString(c, "name", "Root")
	}
	return it
}

// Parse decodes a single JSON object with from.
func Parse[T any](data []byte, from func(gjson.Result) (T, error)) (T, error) {
	root, err := parseRoot(data, "payload")
	if err != nil {
		var zero T
		return zero, err
	}
	return from(root)
}

// ParseList decodes a list payload (bare array or {"data": [...]}) with from.
// Rows without a name are listed as "Unnamed"; rows that still fail to
// decode are skipped so one malformed entry does not hide the rest.
func ParseList[T any](data []byte, from func(gjson.Result) (T, error)) ([]T, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("models: list payload is not valid JSON")
	}
	items := Items(data)
	out := make([]T, 0, len(items))
	for _, it := range items {
		if it.IsObject() && !present(it.Get("name")) {
			if patched, err := sjson.Set(it.Raw, "name", unnamed); err == nil {
				it = gjson.Parse(patched)
			}
		}
		v, err := from(it)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}
