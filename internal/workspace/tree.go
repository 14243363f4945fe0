package workspace

import (
	"github.com/kidandcat/teamsync/internal/db"
	"github.com/kidandcat/teamsync/internal/store"
)

// Tree is one category's two-level hierarchy: folders holding documents,
// plus documents at the root.
type Tree struct {
	Root    []db.Document `json:"rootDocs"`
	Folders []FolderNode  `json:"folders"`
}

type FolderNode struct {
	Folder db.Folder     `json:"folder"`
	Docs   []db.Document `json:"docs"`
}

// Len is the number of documents in the tree.
func (t Tree) Len() int {
	n := len(t.Root)
	for _, f := range t.Folders {
		n += len(f.Docs)
	}
	return n
}

// PersonalTree is userID's personal documents and folders.
func PersonalTree(snap store.Snapshot, userID string) Tree {
	return build(snap,
		func(d db.Document) bool { return d.Visibility() == db.CategoryPersonal && d.AuthorID == userID },
		func(f db.Folder) bool { return f.Visibility() == db.CategoryPersonal && f.UserID == userID },
	)
}

// TeamTree is every member's shared documents and folders.
func TeamTree(snap store.Snapshot) Tree {
	return build(snap,
		func(d db.Document) bool { return d.Visibility() == db.CategoryTeam },
		func(f db.Folder) bool { return f.Visibility() == db.CategoryTeam },
	)
}

// build lists the matching folders in order and files every matching
// document under its folder. A document whose folder is not in this tree
// is listed at the root so it is never hidden.
func build(snap store.Snapshot, doc func(db.Document) bool, folder func(db.Folder) bool) Tree {
	t := Tree{Root: []db.Document{}, Folders: []FolderNode{}}
	at := make(map[string]int)
	for _, f := range snap.Folders {
		if !folder(f) {
			continue
		}
		at[f.ID] = len(t.Folders)
		t.Folders = append(t.Folders, FolderNode{Folder: f, Docs: []db.Document{}})
	}

	for _, d := range snap.Docs {
		if !doc(d) {
			continue
		}
		if id, ok := d.Folder(); ok {
			if i, ok := at[id]; ok {
				t.Folders[i].Docs = append(t.Folders[i].Docs, d)
				continue
			}
		}
		t.Root = append(t.Root, d)
	}
	return t
}
