// Package workspace organizes documents into per-category folder trees and
// carries out structural changes through the entity store.
package workspace

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kidandcat/teamsync/internal/db"
	"github.com/kidandcat/teamsync/internal/store"
)

const (
	DefaultTitle = "Untitled"
	DefaultEmoji = "📄"
)

type Manager struct {
	store *store.Store
	log   zerolog.Logger
	now   func() time.Time
}

func New(s *store.Store, log zerolog.Logger) *Manager {
	return &Manager{
		store: s,
		log:   log.With().Str("component", "workspace").Logger(),
		now:   time.Now,
	}
}

// SetClock replaces the time source used for createdAt/updatedAt.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

func (m *Manager) stamp() time.Time { return m.now().UTC() }

func (m *Manager) PersonalTree(userID string) Tree {
	return PersonalTree(m.store.Snapshot(), userID)
}

func (m *Manager) TeamTree() Tree {
	return TeamTree(m.store.Snapshot())
}

// NewDocument describes a document to create. Title defaults to
// DefaultTitle and Emoji to DefaultEmoji.
type NewDocument struct {
	Title    string
	Content  string
	Emoji    string
	Category db.Category
	FolderID *string
}

// checkFolder verifies that folderID can hold a document of the given
// category owned by ownerID.
func checkFolder(tx *store.Tx, folderID *string, cat db.Category, ownerID string) error {
	if folderID == nil || *folderID == "" {
		return nil
	}
	f, ok := store.Get[db.Folder](tx, *folderID)
	if !ok {
		return &db.ValidationError{Field: "folderId", Reason: fmt.Sprintf("folder %s does not exist", *folderID)}
	}
	if f.Visibility() != cat.OrDefault() {
		return &db.ValidationError{Field: "folderId", Reason: fmt.Sprintf("folder %s is %s", f.ID, f.Visibility())}
	}
	if cat.OrDefault() == db.CategoryPersonal && f.UserID != ownerID {
		return &db.ValidationError{Field: "folderId", Reason: "folder belongs to another member"}
	}
	return nil
}

func (m *Manager) CreateDocument(author db.User, in NewDocument) (db.Document, *store.Pending, error) {
	if author.ID == "" || author.Name == "" {
		return db.Document{}, nil, &db.ValidationError{Field: "author", Reason: "must be set"}
	}
	if !in.Category.Valid() || in.Category == "" {
		return db.Document{}, nil, &db.ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", in.Category)}
	}
	if in.Title == "" {
		in.Title = DefaultTitle
	}
	if in.Emoji == "" {
		in.Emoji = DefaultEmoji
	}
	if in.FolderID != nil && *in.FolderID == "" {
		in.FolderID = nil
	}

	now := m.stamp()
	d := db.Document{
		ID:         db.NewID(),
		Title:      in.Title,
		Content:    in.Content,
		AuthorID:   author.ID,
		AuthorName: author.Name,
		CreatedAt:  now,
		UpdatedAt:  now,
		Emoji:      in.Emoji,
		Category:   in.Category,
		FolderID:   in.FolderID,
	}

	p, err := m.store.Apply(store.Mutation{
		Op: "create document",
		Local: func(tx *store.Tx) error {
			if err := checkFolder(tx, d.FolderID, d.Category, d.AuthorID); err != nil {
				return err
			}
			store.Put(tx, d)
			return nil
		},
		Persist: func(ctx context.Context, gw *db.Gateway) error {
			_, err := gw.Docs.Create(ctx, d)
			return err
		},
	})
	if err != nil {
		return db.Document{}, nil, err
	}
	return d, p, nil
}

func (m *Manager) CreateFolder(owner db.User, name string, cat db.Category) (db.Folder, *store.Pending, error) {
	name, err := db.RequireName("name", name)
	if err != nil {
		return db.Folder{}, nil, err
	}
	if !cat.Valid() {
		return db.Folder{}, nil, &db.ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", cat)}
	}

	f := db.Folder{
		ID:        db.NewID(),
		Name:      name,
		UserID:    owner.ID,
		CreatedAt: m.stamp(),
		Category:  cat.OrDefault(),
	}
	p, err := m.store.Apply(store.Mutation{
		Op:    "create folder",
		Local: func(tx *store.Tx) error { store.Put(tx, f); return nil },
		Persist: func(ctx context.Context, gw *db.Gateway) error {
			_, err := gw.Folders.Create(ctx, f)
			return err
		},
	})
	if err != nil {
		return db.Folder{}, nil, err
	}
	return f, p, nil
}

// editDocument applies edit to the cached document and persists the
// result as a full overwrite.
func (m *Manager) editDocument(op, id string, edit func(tx *store.Tx, d *db.Document) error) (db.Document, *store.Pending, error) {
	var out db.Document
	p, err := m.store.Apply(store.Mutation{
		Op: op,
		Local: func(tx *store.Tx) error {
			d, ok := store.Get[db.Document](tx, id)
			if !ok {
				return fmt.Errorf("document %s: %w", id, db.ErrNotFound)
			}
			if err := edit(tx, &d); err != nil {
				return err
			}
			d.UpdatedAt = m.stamp()
			store.Put(tx, d)
			out = d
			return nil
		},
		Persist: func(ctx context.Context, gw *db.Gateway) error {
			return gw.Docs.Update(ctx, out)
		},
	})
	if err != nil {
		return db.Document{}, nil, err
	}
	return out, p, nil
}

// DocumentPatch holds the editor fields to change; nil fields are kept.
type DocumentPatch struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
	Emoji   *string `json:"emoji,omitempty"`
}

// UpdateDocument applies patch. A blank title rejects the whole patch.
func (m *Manager) UpdateDocument(id string, patch DocumentPatch) (db.Document, *store.Pending, error) {
	if patch.Title != nil {
		title, err := db.RequireName("title", *patch.Title)
		if err != nil {
			return db.Document{}, nil, err
		}
		patch.Title = &title
	}
	return m.editDocument("update document", id, func(_ *store.Tx, d *db.Document) error {
		if patch.Title != nil {
			d.Title = *patch.Title
		}
		if patch.Content != nil {
			d.Content = *patch.Content
		}
		if patch.Emoji != nil {
			d.Emoji = *patch.Emoji
		}
		return nil
	})
}

// RenameDocument sets the title. A blank title is rejected and nothing
// is persisted.
func (m *Manager) RenameDocument(id, title string) (db.Document, *store.Pending, error) {
	title, err := db.RequireName("title", title)
	if err != nil {
		return db.Document{}, nil, err
	}
	return m.editDocument("rename document", id, func(_ *store.Tx, d *db.Document) error {
		d.Title = title
		return nil
	})
}

// MoveDocument puts the document into folderID, or at its category root
// when folderID is nil.
func (m *Manager) MoveDocument(id string, folderID *string) (db.Document, *store.Pending, error) {
	if folderID != nil && *folderID == "" {
		folderID = nil
	}
	return m.editDocument("move document", id, func(tx *store.Tx, d *db.Document) error {
		if err := checkFolder(tx, folderID, d.Category, d.AuthorID); err != nil {
			return err
		}
		d.FolderID = folderID
		return nil
	})
}

// ChangeCategory moves the document to the other partition. It always
// lands at the category root.
func (m *Manager) ChangeCategory(id string, cat db.Category) (db.Document, *store.Pending, error) {
	if !cat.Valid() || cat == "" {
		return db.Document{}, nil, &db.ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", cat)}
	}
	return m.editDocument("change category", id, func(_ *store.Tx, d *db.Document) error {
		d.Category = cat
		d.FolderID = nil
		return nil
	})
}

// DeleteDocument removes the document. Deleting an unknown id succeeds.
func (m *Manager) DeleteDocument(id string) (*store.Pending, error) {
	return m.store.Apply(store.Mutation{
		Op: "delete document",
		Local: func(tx *store.Tx) error {
			store.Remove[db.Document](tx, id)
			return nil
		},
		Persist: func(ctx context.Context, gw *db.Gateway) error {
			return gw.Docs.Delete(ctx, id)
		},
		Keys: []string{store.Key(db.CollDocs, id)},
	})
}

// RenameFolder sets the folder name. A blank name is rejected and nothing
// is persisted.
func (m *Manager) RenameFolder(id, name string) (db.Folder, *store.Pending, error) {
	name, err := db.RequireName("name", name)
	if err != nil {
		return db.Folder{}, nil, err
	}

	var out db.Folder
	p, err := m.store.Apply(store.Mutation{
		Op: "rename folder",
		Local: func(tx *store.Tx) error {
			f, ok := store.Get[db.Folder](tx, id)
			if !ok {
				return fmt.Errorf("folder %s: %w", id, db.ErrNotFound)
			}
			f.Name = name
			store.Put(tx, f)
			out = f
			return nil
		},
		Persist: func(ctx context.Context, gw *db.Gateway) error {
			return gw.Folders.Update(ctx, out)
		},
	})
	if err != nil {
		return db.Folder{}, nil, err
	}
	return out, p, nil
}

// DeleteFolder removes the folder and moves every document in it to the
// category root, as one change. Persistence clears the documents first
// and deletes the folder last, so storage never holds a document pointing
// at a missing folder. Deleting an unknown id succeeds.
func (m *Manager) DeleteFolder(id string) (*store.Pending, error) {
	var orphans []db.Document
	return m.store.Apply(store.Mutation{
		Op: "delete folder",
		Local: func(tx *store.Tx) error {
			now := m.stamp()
			for _, d := range store.Where(tx, func(d db.Document) bool { return d.InFolder(id) }) {
				d.FolderID = nil
				d.UpdatedAt = now
				store.Put(tx, d)
				orphans = append(orphans, d)
			}
			store.Remove[db.Folder](tx, id)
			return nil
		},
		Persist: func(ctx context.Context, gw *db.Gateway) error {
			g, gctx := errgroup.WithContext(ctx)
			for _, d := range orphans {
				g.Go(func() error { return gw.Docs.Update(gctx, d) })
			}
			if err := g.Wait(); err != nil {
				return fmt.Errorf("clear folder %s: %w", id, err)
			}
			if err := gw.Folders.Delete(ctx, id); err != nil {
				return err
			}
			m.log.Debug().Str("folder", id).Int("orphans", len(orphans)).Msg("folder deleted")
			return nil
		},
		Keys: []string{store.Key(db.CollFolders, id)},
	})
}
