// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package store

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/civitashq/civitas/internal/logging"
	"github.com/civitashq/civitas/internal/models"
	"github.com/civitashq/civitas/internal/realtime"
)

// Key prefixes inside the badger keyspace.
const (
	prefixCampaign = "campaign/"
	prefixComment  = "comment/"
	prefixWonder   = "wonder/"
	prefixVote     = "vote/" // vote/<campaignID>/<userID>
)

// Badger is the persistent Gateway backed by a badger key-value store.
// Each write runs in a single badger transaction; events are published after
// the transaction commits.
type Badger struct {
	db   *badger.DB
	sink EventSink
}

// OpenBadger opens (or creates) the store at path.
func OpenBadger(path string, sink EventSink) (*Badger, error) {
	if sink == nil {
		sink = NopSink()
	}
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // badger's own logger is too chatty; we log open/close
	db, err := badger.Open(opts)
	if err != nil {
		return nil, WrapError(CodeUnavailable, err)
	}
	logging.Info().Str("path", path).Msg("badger store opened")
	return &Badger{db: db, sink: sink}, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

func (b *Badger) GetCampaign(_ context.Context, id string) (*models.Campaign, error) {
	var c models.Campaign
	if err := b.getJSON(prefixCampaign+id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (b *Badger) SearchCampaigns(_ context.Context, in SearchCampaignsInput) (*models.CampaignList, error) {
	var matched []models.Campaign
	err := b.scan(prefixCampaign, func(val []byte) error {
		var c models.Campaign
		if err := json.Unmarshal(val, &c); err != nil {
			return err
		}
		if in.Status != "" && c.Status != in.Status {
			return nil
		}
		if in.Location != "" && !containsFold(c.Location, in.Location) {
			return nil
		}
		if in.Query != "" && !containsFold(c.Title, in.Query) && !containsFold(c.Description, in.Query) {
			return nil
		}
		matched = append(matched, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	matched = page(matched, in.Limit, in.Offset)
	return &models.CampaignList{Items: matched, Total: total}, nil
}

func (b *Badger) CreateCampaign(_ context.Context, in CreateCampaignInput) (*models.Campaign, error) {
	if in.Title == "" || in.CreatorID == "" {
		return nil, NewError(CodeInvalid, "title and creator_id are required")
	}
	now := time.Now().UTC()
	c := models.Campaign{
		ID:          models.NewID(),
		Title:       in.Title,
		Description: in.Description,
		Status:      models.CampaignStatusActive,
		Location:    in.Location,
		CreatorID:   in.CreatorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := b.setJSON(prefixCampaign+c.ID, c); err != nil {
		return nil, err
	}
	b.sink.PublishEvent(realtime.NewRowEvent(realtime.EventInsert, models.TableCampaigns, c, nil))
	return &c, nil
}

func (b *Badger) UpdateCampaign(_ context.Context, in UpdateCampaignInput) (*models.Campaign, error) {
	var updated, old models.Campaign
	err := b.db.Update(func(txn *badger.Txn) error {
		if err := getJSONTxn(txn, prefixCampaign+in.ID, &old); err != nil {
			return err
		}
		updated = old.Clone()
		if in.Title != "" {
			updated.Title = in.Title
		}
		if in.Description != "" {
			updated.Description = in.Description
		}
		if in.Status != "" {
			updated.Status = in.Status
		}
		if in.Location != "" {
			updated.Location = in.Location
		}
		updated.UpdatedAt = time.Now().UTC()
		return setJSONTxn(txn, prefixCampaign+updated.ID, updated)
	})
	if err != nil {
		return nil, asStoreError(err)
	}
	b.sink.PublishEvent(realtime.NewRowEvent(realtime.EventUpdate, models.TableCampaigns, updated, old))
	return &updated, nil
}

func (b *Badger) DeleteCampaign(_ context.Context, id string) error {
	var old models.Campaign
	err := b.db.Update(func(txn *badger.Txn) error {
		if err := getJSONTxn(txn, prefixCampaign+id, &old); err != nil {
			return err
		}
		return txn.Delete([]byte(prefixCampaign + id))
	})
	if err != nil {
		return asStoreError(err)
	}
	b.sink.PublishEvent(realtime.NewRowEvent(realtime.EventDelete, models.TableCampaigns, nil, old))
	return nil
}

func (b *Badger) CastVote(_ context.Context, campaignID, userID, voteType string) (*models.Campaign, error) {
	if voteType != models.VoteSupport && voteType != models.VoteOppose {
		return nil, NewError(CodeInvalid, "vote type must be SUPPORT or OPPOSE")
	}
	if userID == "" {
		return nil, NewError(CodeUnauthorized, "vote requires a user")
	}
	var updated, old models.Campaign
	err := b.db.Update(func(txn *badger.Txn) error {
		if err := getJSONTxn(txn, prefixCampaign+campaignID, &old); err != nil {
			return err
		}
		if err := txn.Set([]byte(prefixVote+campaignID+"/"+userID), []byte(voteType)); err != nil {
			return err
		}
		support, oppose, err := tallyTxn(txn, campaignID)
		if err != nil {
			return err
		}
		updated = old.Clone()
		updated.Votes = support
		updated.Opposes = oppose
		updated.UpdatedAt = time.Now().UTC()
		return setJSONTxn(txn, prefixCampaign+updated.ID, updated)
	})
	if err != nil {
		return nil, asStoreError(err)
	}
	b.sink.PublishEvent(realtime.NewRowEvent(realtime.EventUpdate, models.TableCampaigns, updated, old))
	out := updated.Clone()
	out.UserVote = voteType
	return &out, nil
}

func (b *Badger) GetUserVote(_ context.Context, campaignID, userID string) (string, error) {
	var vote string
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixVote + campaignID + "/" + userID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		vote = string(val)
		return nil
	})
	return vote, asStoreError(err)
}

func (b *Badger) GetComment(_ context.Context, id string) (*models.Comment, error) {
	var c models.Comment
	if err := b.getJSON(prefixComment+id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (b *Badger) ListComments(_ context.Context, campaignID string, limit, offset int) (*models.CommentList, error) {
	var matched []models.Comment
	err := b.scan(prefixComment, func(val []byte) error {
		var c models.Comment
		if err := json.Unmarshal(val, &c); err != nil {
			return err
		}
		if c.CampaignID == campaignID {
			matched = append(matched, c)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	matched = page(matched, limit, offset)
	return &models.CommentList{Items: matched, Total: total}, nil
}

func (b *Badger) CreateComment(_ context.Context, in CreateCommentInput) (*models.Comment, error) {
	if in.Body == "" || in.CampaignID == "" || in.AuthorID == "" {
		return nil, NewError(CodeInvalid, "campaign_id, author_id and body are required")
	}
	now := time.Now().UTC()
	comment := models.Comment{
		ID:         models.NewID(),
		CampaignID: in.CampaignID,
		AuthorID:   in.AuthorID,
		Body:       in.Body,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	var campaign, oldCampaign models.Campaign
	err := b.db.Update(func(txn *badger.Txn) error {
		if err := getJSONTxn(txn, prefixCampaign+in.CampaignID, &oldCampaign); err != nil {
			return err
		}
		if err := setJSONTxn(txn, prefixComment+comment.ID, comment); err != nil {
			return err
		}
		campaign = oldCampaign.Clone()
		campaign.CommentCount++
		campaign.UpdatedAt = now
		return setJSONTxn(txn, prefixCampaign+campaign.ID, campaign)
	})
	if err != nil {
		return nil, asStoreError(err)
	}
	b.sink.PublishEvent(realtime.NewRowEvent(realtime.EventInsert, models.TableComments, comment, nil))
	b.sink.PublishEvent(realtime.NewRowEvent(realtime.EventUpdate, models.TableCampaigns, campaign, oldCampaign))
	return &comment, nil
}

func (b *Badger) UpdateComment(_ context.Context, id, body string) (*models.Comment, error) {
	if body == "" {
		return nil, NewError(CodeInvalid, "body is required")
	}
	var updated, old models.Comment
	err := b.db.Update(func(txn *badger.Txn) error {
		if err := getJSONTxn(txn, prefixComment+id, &old); err != nil {
			return err
		}
		updated = old
		updated.Body = body
		updated.UpdatedAt = time.Now().UTC()
		return setJSONTxn(txn, prefixComment+id, updated)
	})
	if err != nil {
		return nil, asStoreError(err)
	}
	b.sink.PublishEvent(realtime.NewRowEvent(realtime.EventUpdate, models.TableComments, updated, old))
	return &updated, nil
}

func (b *Badger) DeleteComment(_ context.Context, id string) error {
	var old models.Comment
	var campaign, oldCampaign models.Campaign
	var campaignTouched bool
	err := b.db.Update(func(txn *badger.Txn) error {
		if err := getJSONTxn(txn, prefixComment+id, &old); err != nil {
			return err
		}
		if err := txn.Delete([]byte(prefixComment + id)); err != nil {
			return err
		}
		if err := getJSONTxn(txn, prefixCampaign+old.CampaignID, &oldCampaign); err != nil {
			if IsNotFound(err) {
				return nil // campaign already gone; comment delete still stands
			}
			return err
		}
		if oldCampaign.CommentCount > 0 {
			campaign = oldCampaign.Clone()
			campaign.CommentCount--
			campaign.UpdatedAt = time.Now().UTC()
			campaignTouched = true
			return setJSONTxn(txn, prefixCampaign+campaign.ID, campaign)
		}
		return nil
	})
	if err != nil {
		return asStoreError(err)
	}
	b.sink.PublishEvent(realtime.NewRowEvent(realtime.EventDelete, models.TableComments, nil, old))
	if campaignTouched {
		b.sink.PublishEvent(realtime.NewRowEvent(realtime.EventUpdate, models.TableCampaigns, campaign, oldCampaign))
	}
	return nil
}

func (b *Badger) GetWonder(_ context.Context, id string) (*models.Wonder, error) {
	var w models.Wonder
	if err := b.getJSON(prefixWonder+id, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (b *Badger) SearchWonders(_ context.Context, in SearchWondersInput) (*models.WonderList, error) {
	var matched []models.Wonder
	err := b.scan(prefixWonder, func(val []byte) error {
		var w models.Wonder
		if err := json.Unmarshal(val, &w); err != nil {
			return err
		}
		if in.Query != "" && !containsFold(w.Question, in.Query) {
			return nil
		}
		matched = append(matched, w)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	matched = page(matched, in.Limit, in.Offset)
	return &models.WonderList{Items: matched, Total: total}, nil
}

func (b *Badger) CreateWonder(_ context.Context, in CreateWonderInput) (*models.Wonder, error) {
	if in.Question == "" || in.AuthorID == "" {
		return nil, NewError(CodeInvalid, "author_id and question are required")
	}
	now := time.Now().UTC()
	w := models.Wonder{
		ID:        models.NewID(),
		AuthorID:  in.AuthorID,
		Question:  in.Question,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := b.setJSON(prefixWonder+w.ID, w); err != nil {
		return nil, err
	}
	b.sink.PublishEvent(realtime.NewRowEvent(realtime.EventInsert, models.TableWonders, w, nil))
	return &w, nil
}

func (b *Badger) UpdateWonder(_ context.Context, id, question string) (*models.Wonder, error) {
	if question == "" {
		return nil, NewError(CodeInvalid, "question is required")
	}
	var updated, old models.Wonder
	err := b.db.Update(func(txn *badger.Txn) error {
		if err := getJSONTxn(txn, prefixWonder+id, &old); err != nil {
			return err
		}
		updated = old
		updated.Question = question
		updated.UpdatedAt = time.Now().UTC()
		return setJSONTxn(txn, prefixWonder+id, updated)
	})
	if err != nil {
		return nil, asStoreError(err)
	}
	b.sink.PublishEvent(realtime.NewRowEvent(realtime.EventUpdate, models.TableWonders, updated, old))
	return &updated, nil
}

func (b *Badger) DeleteWonder(_ context.Context, id string) error {
	var old models.Wonder
	err := b.db.Update(func(txn *badger.Txn) error {
		if err := getJSONTxn(txn, prefixWonder+id, &old); err != nil {
			return err
		}
		return txn.Delete([]byte(prefixWonder + id))
	})
	if err != nil {
		return asStoreError(err)
	}
	b.sink.PublishEvent(realtime.NewRowEvent(realtime.EventDelete, models.TableWonders, nil, old))
	return nil
}

// getJSON reads and decodes a single key.
func (b *Badger) getJSON(key string, out interface{}) error {
	err := b.db.View(func(txn *badger.Txn) error {
		return getJSONTxn(txn, key, out)
	})
	return asStoreError(err)
}

// setJSON encodes and writes a single key in its own transaction.
func (b *Badger) setJSON(key string, v interface{}) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return setJSONTxn(txn, key, v)
	})
	return asStoreError(err)
}

// scan walks all values under prefix.
func (b *Badger) scan(prefix string, fn func(val []byte) error) error {
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(val); err != nil {
				return err
			}
		}
		return nil
	})
	return asStoreError(err)
}

func getJSONTxn(txn *badger.Txn, key string, out interface{}) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return NewError(CodeNotFound, key+" not found")
		}
		return err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	return json.Unmarshal(val, out)
}

func setJSONTxn(txn *badger.Txn, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), data)
}

// tallyTxn recounts a campaign's votes inside the voting transaction.
func tallyTxn(txn *badger.Txn, campaignID string) (support, oppose int, err error) {
	prefix := []byte(prefixVote + campaignID + "/")
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		val, verr := it.Item().ValueCopy(nil)
		if verr != nil {
			return 0, 0, verr
		}
		switch {
		case bytes.Equal(val, []byte(models.VoteSupport)):
			support++
		case bytes.Equal(val, []byte(models.VoteOppose)):
			oppose++
		}
	}
	return support, oppose, nil
}

// asStoreError normalizes raw badger failures to typed gateway errors while
// passing through errors that already carry a code.
func asStoreError(err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return WrapError(CodeUnavailable, err)
}
