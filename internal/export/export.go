// Package export implements the three bundle export formats (spec.md §6):
// a native round-trippable bundle, a JSON-LD graph envelope, and a flat CSV
// export, plus the native bundle's importer.
package export

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/csv"
	"fmt"
	"math"
	"strings"
	"time"

	"sirc/internal/crdt"
	"sirc/internal/logging"
	"sirc/internal/model"
	"sirc/internal/sircerr"
	"sirc/internal/store"
	"sirc/internal/topic"
)

const bundleFormat = "sirc-bundle"
const bundleVersion = "1.0"

// Exporter reads from the store, CRDT bus, and topic modeller to produce
// export bundles, and writes native bundles back into the store on import.
type Exporter struct {
	store   *store.Store
	bus     *crdt.Bus
	topics  *topic.Modeller
}

// New builds an Exporter. bus and topics may be nil when a caller only needs
// native-bundle imports or graph/CSV export (which don't read CRDT history
// or topics).
func New(s *store.Store, bus *crdt.Bus, topics *topic.Modeller) *Exporter {
	return &Exporter{store: s, bus: bus, topics: topics}
}

// Stats mirrors the bundle's per-project stats object.
type Stats struct {
	NodeCount  int `json:"nodeCount"`
	LinkCount  int `json:"linkCount"`
	TopicCount int `json:"topicCount"`
}

// ProjectBundle is one project's slice of the native bundle.
type ProjectBundle struct {
	ProjectID    string             `json:"projectId"`
	ExportedAt   string             `json:"exportedAt"`
	Status       string             `json:"status"`
	Stats        Stats              `json:"stats"`
	Nodes        []*model.Node      `json:"nodes"`
	Links        []*model.Link      `json:"links"`
	Topics       []topic.View       `json:"topics"`
	CRDTHistory  []*model.Operation `json:"crdtHistory,omitempty"`
}

// Bundle is the native ".fmind"-equivalent export envelope.
type Bundle struct {
	Format         string          `json:"format"`
	Version        string          `json:"version"`
	ExportedAt     string          `json:"exportedAt"`
	Projects       []ProjectBundle `json:"projects"`
	GlobalMetadata map[string]interface{} `json:"globalMetadata,omitempty"`
}

// ExportOptions configures ExportFmind.
type ExportOptions struct {
	IncludeCRDTHistory bool
	GlobalMetadata     map[string]interface{}
}

// ExportFmind builds the native bundle for the given projects (spec.md §6
// "Native bundle"). A project with no nodes still appears, with zeroed stats.
func (e *Exporter) ExportFmind(projectIDs []string, opts ExportOptions) (*Bundle, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "ExportFmind")
	defer timer.Stop()

	now := time.Now().UTC().Format(time.RFC3339)

	allNodes, err := e.store.GetAllNodes(0)
	if err != nil {
		return nil, err
	}
	nodesByProject := make(map[string][]*model.Node)
	for _, n := range allNodes {
		nodesByProject[n.ProjectID] = append(nodesByProject[n.ProjectID], n)
	}

	bundle := &Bundle{Format: bundleFormat, Version: bundleVersion, ExportedAt: now, GlobalMetadata: opts.GlobalMetadata}

	for _, projectID := range projectIDs {
		links, err := e.store.QueryLinks(store.LinkFilters{ProjectID: projectID}, 0, store.SortByCreatedAt)
		if err != nil {
			return nil, err
		}

		var topicViews []topic.View
		if e.topics != nil {
			topicViews = e.topics.GetTopics(topic.QueryOptions{ProjectIDs: []string{projectID}})
		}

		pb := ProjectBundle{
			ProjectID:  projectID,
			ExportedAt: now,
			Status:     "ok",
			Stats: Stats{
				NodeCount: len(nodesByProject[projectID]), LinkCount: len(links), TopicCount: len(topicViews),
			},
			Nodes:  nodesByProject[projectID],
			Links:  links,
			Topics: topicViews,
		}

		if opts.IncludeCRDTHistory && e.bus != nil {
			history, err := e.bus.GetOperationHistory(projectID, crdt.HistoryFilters{}, 0)
			if err != nil {
				return nil, err
			}
			pb.CRDTHistory = history
		}

		bundle.Projects = append(bundle.Projects, pb)
	}

	return bundle, nil
}

// ImportFmind writes a native bundle's live nodes and links back into the
// store. It validates every project before writing any of them, so a bundle
// that fails validation leaves the store unchanged. The writes are not
// transactional: a storage error partway through leaves the nodes and links
// written before it in place.
func (e *Exporter) ImportFmind(bundle *Bundle) error {
	timer := logging.StartTimer(logging.CategoryIndex, "ImportFmind")
	defer timer.Stop()

	if bundle.Format != bundleFormat {
		return sircerr.Field(sircerr.InvalidInput, "format", fmt.Sprintf("unrecognized bundle format %q", bundle.Format))
	}

	for _, pb := range bundle.Projects {
		for _, n := range pb.Nodes {
			if n.ID == "" || n.ProjectID == "" {
				return sircerr.Field(sircerr.InvalidInput, "nodes", "every node requires id and project_id")
			}
		}
		for _, l := range pb.Links {
			if l.Source == l.Target {
				return sircerr.Field(sircerr.InvalidInput, "links", "self-links are invalid")
			}
		}
	}

	for _, pb := range bundle.Projects {
		for _, n := range pb.Nodes {
			if err := e.store.SaveNode(n); err != nil {
				return err
			}
		}
		for _, l := range pb.Links {
			if err := e.store.SaveLink(l); err != nil {
				return err
			}
		}
	}
	return nil
}

// jsonLDContext maps Node/Link semantic-web aliases (spec.md §6 "Graph export").
var jsonLDContext = map[string]interface{}{
	"@vocab":    "https://schema.org/",
	"Node":      "CreativeWork",
	"Link":      "Relationship",
	"title":     "name",
	"text":      "text",
	"createdAt": "dateCreated",
	"updatedAt": "dateModified",
}

// GraphNode is one JSON-LD node entry.
type GraphNode struct {
	ID         string      `json:"@id"`
	Type       string      `json:"@type"`
	Title      string      `json:"title"`
	Text       string      `json:"text"`
	CreatedAt  string      `json:"createdAt"`
	Provenance interface{} `json:"provenance,omitempty"`
}

// GraphLink is one JSON-LD link entry.
type GraphLink struct {
	ID           string      `json:"@id"`
	Type         string      `json:"@type"`
	Source       string      `json:"source"`
	Target       string      `json:"target"`
	RelationType string      `json:"relationType"`
	UpdatedAt    string      `json:"updatedAt"`
	Provenance   interface{} `json:"provenance,omitempty"`
}

// Graph is the JSON-LD envelope returned by ExportGraph.
type Graph struct {
	Context map[string]interface{} `json:"@context"`
	Graph   []interface{}          `json:"@graph"`
}

// GraphOptions configures ExportGraph.
type GraphOptions struct {
	IncludeProvenance bool
}

// ExportGraph builds a JSON-LD graph envelope over nodes and links.
func ExportGraph(nodes []*model.Node, links []*model.Link, opts GraphOptions) Graph {
	g := Graph{Context: jsonLDContext}
	for _, n := range nodes {
		gn := GraphNode{ID: n.ID, Type: "Node", Title: n.Title, Text: n.Text, CreatedAt: n.Meta.CreatedAt.Format(time.RFC3339)}
		g.Graph = append(g.Graph, gn)
	}
	for _, l := range links {
		gl := GraphLink{ID: l.LinkID, Type: "Link", Source: l.Source, Target: l.Target, RelationType: string(l.RelationType), UpdatedAt: l.UpdatedAt.Format(time.RFC3339)}
		if opts.IncludeProvenance {
			gl.Provenance = l.Provenance
		}
		g.Graph = append(g.Graph, gl)
	}
	return g
}

// ExportCSV renders nodes as a CSV with a caller-supplied field list as the
// header, optionally followed by a "# Links" section with a fixed columnset
// (spec.md §6 "Flat export"). Supported node fields: id, project_id, title,
// text, summary, morton_key, parent, created_at, author.
func ExportCSV(nodes []*model.Node, fields []string, links []*model.Link) (string, error) {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	if err := w.Write(fields); err != nil {
		return "", sircerr.Wrap(sircerr.InvalidInput, err, "write csv header")
	}
	for _, n := range nodes {
		row := make([]string, len(fields))
		for i, f := range fields {
			row[i] = nodeFieldValue(n, f)
		}
		if err := w.Write(row); err != nil {
			return "", sircerr.Wrap(sircerr.InvalidInput, err, "write csv row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", sircerr.Wrap(sircerr.InvalidInput, err, "flush csv")
	}

	out := sb.String()
	if len(links) == 0 {
		return out, nil
	}

	var linkSB strings.Builder
	linkW := csv.NewWriter(&linkSB)
	linkFields := []string{"link_id", "source", "target", "relation_type", "confidence", "active"}
	if err := linkW.Write(linkFields); err != nil {
		return "", sircerr.Wrap(sircerr.InvalidInput, err, "write links csv header")
	}
	for _, l := range links {
		if err := linkW.Write([]string{
			l.LinkID, l.Source, l.Target, string(l.RelationType),
			fmt.Sprintf("%.4f", l.Confidence), fmt.Sprintf("%t", l.Active),
		}); err != nil {
			return "", sircerr.Wrap(sircerr.InvalidInput, err, "write links csv row")
		}
	}
	linkW.Flush()

	return out + "# Links\n" + linkSB.String(), nil
}

func nodeFieldValue(n *model.Node, field string) string {
	switch field {
	case "id":
		return n.ID
	case "project_id":
		return n.ProjectID
	case "title":
		return n.Title
	case "text":
		return n.Text
	case "summary":
		return n.Summary
	case "morton_key":
		return n.MortonKey
	case "parent":
		return n.Parent
	case "created_at":
		return n.Meta.CreatedAt.Format(time.RFC3339)
	case "author":
		return n.Meta.Author
	default:
		return ""
	}
}

// EncodeEmbeddingBase64 packs an embedding as little-endian IEEE-754 bytes,
// base64-encoded for storage/transport (spec.md §6 "Embedding encoding").
// A nil embedding encodes as "", which callers must round-trip as a JSON
// null rather than an empty string.
func EncodeEmbeddingBase64(embedding []float32) string {
	if embedding == nil {
		return ""
	}
	buf := make([]byte, len(embedding)*4)
	for i, f := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeEmbeddingBase64 is the inverse of EncodeEmbeddingBase64; an empty
// string decodes to a nil embedding.
func DecodeEmbeddingBase64(encoded string) ([]float32, error) {
	if encoded == "" {
		return nil, nil
	}
	buf, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, sircerr.Wrap(sircerr.InvalidInput, err, "decode embedding base64")
	}
	if len(buf)%4 != 0 {
		return nil, sircerr.New(sircerr.InvalidInput, "embedding byte length must be a multiple of 4")
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}
