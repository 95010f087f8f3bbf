package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trionica/catalog-enricher/pkg/models"
	"github.com/trionica/catalog-enricher/pkg/utils"
)

func strPtr(s string) *string { return &s }

func TestStagedCatalog_FlushAppliesInOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.PutItems(ctx, sampleItems())
	require.NoError(t, err)

	staged := NewStagedCatalog(store)
	att := &models.Attachment{ItemID: "3", Name: "mug.jpg"}
	require.NoError(t, staged.CreateAttachment(ctx, att, []byte("mug")))
	require.NotEmpty(t, att.ID, "id must be known before flush")
	require.NoError(t, staged.UpdateItem(ctx, "3", models.ItemUpdate{ImageAttachmentID: strPtr(att.ID)}))
	assert.Equal(t, 2, staged.Pending())

	// Nothing visible before flush
	items, err := store.GetItems(ctx, []string{"3"})
	require.NoError(t, err)
	assert.False(t, items[0].HasImage())

	n, err := staged.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Zero(t, staged.Pending())

	items, err = store.GetItems(ctx, []string{"3"})
	require.NoError(t, err)
	assert.Equal(t, att.ID, items[0].ImageAttachmentID)

	found, ok, err := store.FindAttachmentByChecksum(ctx, att.Checksum)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, att.ID, found.ID)
}

func TestStagedCatalog_RollbackTo(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.PutItems(ctx, sampleItems())
	require.NoError(t, err)

	staged := NewStagedCatalog(store)
	require.NoError(t, staged.UpdateItem(ctx, "1", models.ItemUpdate{SaleDescription: strPtr("kept")}))

	cp := staged.Checkpoint()
	require.NoError(t, staged.UpdateItem(ctx, "3", models.ItemUpdate{SaleDescription: strPtr("discarded")}))
	staged.RollbackTo(cp)
	assert.Equal(t, 1, staged.Pending())

	_, err = staged.Flush(ctx)
	require.NoError(t, err)

	items, err := store.GetItems(ctx, []string{"1", "3"})
	require.NoError(t, err)
	assert.Equal(t, "kept", items[0].SaleDescription)
	assert.Empty(t, items[1].SaleDescription)
}

func TestStagedCatalog_DedupSeesStagedAttachments(t *testing.T) {
	staged := NewStagedCatalog(newTestStore(t))
	ctx := context.Background()

	att := &models.Attachment{ItemID: "1"}
	require.NoError(t, staged.CreateAttachment(ctx, att, []byte("same bytes")))

	found, ok, err := staged.FindAttachmentByChecksum(ctx, utils.ContentSHA256([]byte("same bytes")))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, att.ID, found.ID)
}

func TestStagedCatalog_GetItemsOverlaysStagedUpdates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	_, err := store.PutItems(ctx, sampleItems())
	require.NoError(t, err)

	staged := NewStagedCatalog(store)
	require.NoError(t, staged.UpdateItem(ctx, "3", models.ItemUpdate{SaleDescription: strPtr("staged text")}))

	items, err := staged.GetItems(ctx, []string{"3", "10"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "staged text", items[0].SaleDescription)
	assert.Empty(t, items[1].SaleDescription)

	stored, err := store.GetItems(ctx, []string{"3"})
	require.NoError(t, err)
	assert.Empty(t, stored[0].SaleDescription, "backing store untouched until flush")

	_, err = NewStagedCatalog(&failingWriter{}).GetItems(ctx, []string{"3"})
	assert.ErrorIs(t, err, utils.ErrDatabase)
}

type failingWriter struct {
	CatalogWriter
	failOn string
	calls  []string
}

func (f *failingWriter) UpdateItem(ctx context.Context, id string, upd models.ItemUpdate) error {
	f.calls = append(f.calls, id)
	if id == f.failOn {
		return errors.New("disk full")
	}
	return nil
}

func TestStagedCatalog_FlushFailureKeepsRemainder(t *testing.T) {
	backing := &failingWriter{failOn: "2"}
	staged := NewStagedCatalog(backing)
	ctx := context.Background()
	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, staged.UpdateItem(ctx, id, models.ItemUpdate{SaleDescription: strPtr("x")}))
	}

	n, err := staged.Flush(ctx)
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, utils.ErrPersistence)
	assert.Contains(t, err.Error(), "'2'")
	assert.Equal(t, 2, staged.Pending())
	assert.Equal(t, []string{"1", "2"}, backing.calls)
	assert.Equal(t, []string{"2", "3"}, staged.PendingItemIDs())
}

func TestStagedCatalog_PendingItemIDs(t *testing.T) {
	staged := NewStagedCatalog(&failingWriter{})
	ctx := context.Background()
	require.NoError(t, staged.CreateAttachment(ctx, &models.Attachment{ItemID: "b"}, []byte("img")))
	require.NoError(t, staged.UpdateItem(ctx, "b", models.ItemUpdate{SaleDescription: strPtr("x")}))
	require.NoError(t, staged.UpdateItem(ctx, "a", models.ItemUpdate{SaleDescription: strPtr("y")}))
	assert.Equal(t, []string{"b", "a"}, staged.PendingItemIDs())

	staged.RollbackTo(0)
	assert.Empty(t, staged.PendingItemIDs())
}

func TestStagedCatalog_TrackAttributesWritesToItem(t *testing.T) {
	staged := NewStagedCatalog(&failingWriter{})
	ctx := context.Background()
	staged.Track("1")
	require.NoError(t, staged.UpdateItem(ctx, "other", models.ItemUpdate{SaleDescription: strPtr("x")}))
	staged.Track("2")
	require.NoError(t, staged.CreateAttachment(ctx, &models.Attachment{ItemID: "2"}, []byte("img")))
	assert.Equal(t, []string{"1", "2"}, staged.PendingItemIDs())
}
