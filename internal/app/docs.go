package app

import (
	"context"
	"fmt"

	"github.com/kidandcat/teamsync/internal/assist"
	"github.com/kidandcat/teamsync/internal/db"
	"github.com/kidandcat/teamsync/internal/feed"
	"github.com/kidandcat/teamsync/internal/store"
	"github.com/kidandcat/teamsync/internal/workspace"
)

// canEditDoc: team documents are shared, personal ones belong to their
// author.
func canEditDoc(user db.User, d db.Document) bool {
	return d.Visibility() == db.CategoryTeam || d.AuthorID == user.ID
}

func canEditFolder(user db.User, f db.Folder) bool {
	return f.Visibility() == db.CategoryTeam || f.UserID == user.ID
}

// CanView reports whether user may open d.
func CanView(user db.User, d db.Document) bool { return canEditDoc(user, d) }

func (a *App) document(user db.User, id string) (db.Document, error) {
	d, ok := store.Find[db.Document](a.Store, id)
	if !ok {
		return db.Document{}, fmt.Errorf("document %s: %w", id, db.ErrNotFound)
	}
	if !canEditDoc(user, d) {
		return db.Document{}, ErrForbidden
	}
	return d, nil
}

func (a *App) folder(user db.User, id string) (db.Folder, error) {
	f, ok := store.Find[db.Folder](a.Store, id)
	if !ok {
		return db.Folder{}, fmt.Errorf("folder %s: %w", id, db.ErrNotFound)
	}
	if !canEditFolder(user, f) {
		return db.Folder{}, ErrForbidden
	}
	return f, nil
}

// Document returns a document user may see.
func (a *App) Document(user db.User, id string) (db.Document, error) {
	return a.document(user, id)
}

// Trees returns the personal and team trees as user sees them.
func (a *App) Trees(user db.User) (personal, team workspace.Tree) {
	return a.Workspace.PersonalTree(user.ID), a.Workspace.TeamTree()
}

// CreateDocument creates a document and records it in the feed.
func (a *App) CreateDocument(ctx context.Context, user db.User, in workspace.NewDocument) (db.Document, *store.Pending, error) {
	d, p, err := a.Workspace.CreateDocument(user, in)
	if err != nil {
		return db.Document{}, nil, err
	}
	if _, err := a.Feed.Record(ctx, user.Name, feed.ActionDocumentCreated, d.Title); err != nil {
		a.log.Error().Err(err).Str("doc", d.ID).Msg("error recording document")
	}
	return d, p, nil
}

func (a *App) UpdateDocument(user db.User, id string, patch workspace.DocumentPatch) (db.Document, *store.Pending, error) {
	if _, err := a.document(user, id); err != nil {
		return db.Document{}, nil, err
	}
	return a.Workspace.UpdateDocument(id, patch)
}

func (a *App) RenameDocument(user db.User, id, title string) (db.Document, *store.Pending, error) {
	if _, err := a.document(user, id); err != nil {
		return db.Document{}, nil, err
	}
	return a.Workspace.RenameDocument(id, title)
}

func (a *App) MoveDocument(user db.User, id string, folderID *string) (db.Document, *store.Pending, error) {
	if _, err := a.document(user, id); err != nil {
		return db.Document{}, nil, err
	}
	return a.Workspace.MoveDocument(id, folderID)
}

// ChangeCategory moves a document between the personal and team trees.
// Only the author may publish or withdraw it.
func (a *App) ChangeCategory(user db.User, id string, cat db.Category) (db.Document, *store.Pending, error) {
	d, err := a.document(user, id)
	if err != nil {
		return db.Document{}, nil, err
	}
	if d.AuthorID != user.ID && !user.IsAdmin() {
		return db.Document{}, nil, ErrForbidden
	}
	return a.Workspace.ChangeCategory(id, cat)
}

// DeleteDocument removes a document. Missing ids are a no-op.
func (a *App) DeleteDocument(user db.User, id string) (*store.Pending, error) {
	if d, ok := store.Find[db.Document](a.Store, id); ok && !canEditDoc(user, d) {
		return nil, ErrForbidden
	}
	return a.Workspace.DeleteDocument(id)
}

func (a *App) CreateFolder(user db.User, name string, cat db.Category) (db.Folder, *store.Pending, error) {
	return a.Workspace.CreateFolder(user, name, cat)
}

func (a *App) RenameFolder(user db.User, id, name string) (db.Folder, *store.Pending, error) {
	if _, err := a.folder(user, id); err != nil {
		return db.Folder{}, nil, err
	}
	return a.Workspace.RenameFolder(id, name)
}

// DeleteFolder removes a folder; its documents move to the category root.
func (a *App) DeleteFolder(user db.User, id string) (*store.Pending, error) {
	if f, ok := store.Find[db.Folder](a.Store, id); ok && !canEditFolder(user, f) {
		return nil, ErrForbidden
	}
	return a.Workspace.DeleteFolder(id)
}

// AssistDocument runs cmd over the document's content and saves the
// merged result.
func (a *App) AssistDocument(ctx context.Context, user db.User, id string, cmd assist.Command) (db.Document, *store.Pending, error) {
	d, err := a.document(user, id)
	if err != nil {
		return db.Document{}, nil, err
	}
	result, err := a.Assist.Transform(ctx, d.Content, cmd)
	if err != nil {
		return db.Document{}, nil, err
	}
	content := assist.Apply(d.Content, cmd, result)
	return a.Workspace.UpdateDocument(id, workspace.DocumentPatch{Content: &content})
}
