// Package storage は履歴書ファイルを保存するオブジェクトストレージを抽象化する。
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound は指定キーのオブジェクトが存在しないことを表す。
var ErrObjectNotFound = errors.New("object not found")

// Object はストレージから取得したオブジェクト。Bodyは呼び出し側でCloseすること。
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// BlobStore はオブジェクトストレージのインターフェース。
type BlobStore interface {
	// Put はオブジェクトを保存する。同じキーが存在する場合は上書きする。
	Put(ctx context.Context, key string, body io.ReadSeeker, contentType string) error
	// Get はオブジェクトを取得する。存在しない場合はErrObjectNotFoundを返す。
	Get(ctx context.Context, key string) (*Object, error)
	// Delete はオブジェクトを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, key string) error
	// Exists はオブジェクトが存在するかどうかを返す。
	Exists(ctx context.Context, key string) (bool, error)
}
