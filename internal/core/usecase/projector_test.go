package usecase

import (
	"testing"
	"time"

	"github.com/kirillkom/pidsync/internal/core/domain"
)

func TestProjectRoot(t *testing.T) {
	pub := fullPublication()
	pub.Files[0].Handle = "20.500.12345/file-1"
	pub.Documents = []domain.Document{{ID: 2, URL: "u"}}
	projector := NewProjector(ProjectorConfig{LandingBaseURL: "https://pubs.example.org/doc/"}, nil)

	root := projector.ProjectRoot(pub)

	if root.ID != "20.500.12345/pub-7" || root.Type != "Publication" {
		t.Fatalf("unexpected root identity %s/%s", root.ID, root.Type)
	}
	if root.Content["docIdUrl"] != "https://pubs.example.org/doc/doc-7" {
		t.Fatalf("unexpected docIdUrl %v", root.Content["docIdUrl"])
	}
	if files := root.Content["files"].([]string); len(files) != 1 || files[0] != "20.500.12345/file-1" {
		t.Fatalf("unexpected files %v", files)
	}
	if documents := root.Content["documents"].([]string); len(documents) != 0 {
		t.Fatalf("documents without handle must be left out, got %v", documents)
	}
	if root.Content["updatedAt"] != "2024-05-01T12:00:00Z" {
		t.Fatalf("unexpected updatedAt %v", root.Content["updatedAt"])
	}
}

func TestProjectRootUsesClockWhenUnmodified(t *testing.T) {
	pub := fullPublication()
	pub.UpdatedAt = time.Time{}
	projector := NewProjector(ProjectorConfig{}, fixedClock(time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)))

	root := projector.ProjectRoot(pub)
	if root.Content["updatedAt"] != "2030-01-02T03:04:05Z" {
		t.Fatalf("unexpected updatedAt %v", root.Content["updatedAt"])
	}
	if root.Content["docIdUrl"] != "doc-7" {
		t.Fatalf("without a landing base the document id is used as is, got %v", root.Content["docIdUrl"])
	}
}

func TestProjectDocumentAddsCatalogueURL(t *testing.T) {
	pub := fullPublication()
	projector := NewProjector(ProjectorConfig{CatalogueItemBaseURL: "https://repo.example.org/items"}, nil)

	obj := projector.ProjectDocument(domain.Document{
		Handle:         "20.500.12345/doc-1",
		Title:          "Thesis",
		CatalogueID:    "3f1c",
		ExternalID:     "ark-1",
		ExternalIDType: "ARK",
	}, pub)

	if obj.ID != "20.500.12345/doc-1" || obj.Type != "Document" {
		t.Fatalf("unexpected identity %s/%s", obj.ID, obj.Type)
	}
	if obj.Content["catalogueUrl"] != "https://repo.example.org/items/3f1c" {
		t.Fatalf("unexpected catalogueUrl %v", obj.Content["catalogueUrl"])
	}
	if obj.Content["ark"] != "ark-1" || obj.Content["originalIdentifierType"] != "ARK" {
		t.Fatalf("external identifier must be duplicated under its type, got %v", obj.Content)
	}
	if obj.Content["parentId"] != pub.RegistryKey {
		t.Fatalf("unexpected parentId %v", obj.Content["parentId"])
	}
}

func TestProjectCollection(t *testing.T) {
	pub := fullPublication()
	projector := NewProjector(ProjectorConfig{}, nil)

	obj := projector.ProjectCollection(pub, domain.CollectionCreators)

	if obj.ID != "20.500.12345/pub-7/creators" || obj.Type != "Collection" {
		t.Fatalf("unexpected identity %s/%s", obj.ID, obj.Type)
	}
	if obj.Content["count"] != 1 || obj.Content["kind"] != "creators" {
		t.Fatalf("unexpected content %v", obj.Content)
	}
	records := obj.Content["records"].([]map[string]any)
	if records[0]["identifierUrl"] != "https://orcid.org/0000-0002-1825-0097" {
		t.Fatalf("unexpected identifierUrl %v", records[0]["identifierUrl"])
	}

	empty := projector.ProjectCollection(&domain.Publication{RegistryKey: "k"}, domain.CollectionFunders)
	if empty.Content["count"] != 0 {
		t.Fatalf("expected empty collection, got %v", empty.Content)
	}
}

func TestIdentifierURL(t *testing.T) {
	cases := []struct {
		kind, id, want string
	}{
		{"ORCID", "0000-0002-1825-0097", "https://orcid.org/0000-0002-1825-0097"},
		{"ror", "03yrm5c26", "https://ror.org/03yrm5c26"},
		{"ISNI", "0000 0001 2103 4996", "https://isni.org/isni/0000000121034996"},
		{"DOI", "doi:10.5555/x", "https://doi.org/10.5555/x"},
		{"Handle", "11111/22", "https://hdl.handle.net/11111/22"},
		{"RAiD", "10.80368/b1adfb3a", "https://raid.org/10.80368/b1adfb3a"},
		{"Crossref Funder ID", "501100000780", "https://doi.org/10.13039/501100000780"},
		{"Crossref Funder ID", "10.13039/501100000780", "https://doi.org/10.13039/501100000780"},
		{"URL", "https://example.org/p", "https://example.org/p"},
		{"", "https://example.org/q", "https://example.org/q"},
		{"Local", "abc", ""},
		{"ORCID", "  ", ""},
	}
	for _, tc := range cases {
		if got := IdentifierURL(tc.kind, tc.id); got != tc.want {
			t.Fatalf("IdentifierURL(%q, %q) = %q, want %q", tc.kind, tc.id, got, tc.want)
		}
	}
}
