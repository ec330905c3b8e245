// Civitas - Civic Engagement Platform
// Copyright 2026 Civitas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/civitashq/civitas

package bridge

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/civitashq/civitas/internal/cache"
	"github.com/civitashq/civitas/internal/models"
	"github.com/civitashq/civitas/internal/realtime"
)

// Mergers only touch entries that already exist: a row nobody has queried is
// not worth caching, and the next fetch gets it from the store anyway.
// Cached campaign values are shared across sessions and carry no per-user
// vote, and realtime rows never do either, so merges replace wholesale.

var errNoRowID = errors.New("event carries no row id")

// decodeRow converts a generic row image back to its typed form.
func decodeRow[T any](image map[string]interface{}) (T, error) {
	var out T
	data, err := json.Marshal(image)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, err
	}
	return out, nil
}

type campaignMerger struct{}

func (campaignMerger) Table() string { return models.TableCampaigns }

func (campaignMerger) Apply(store *cache.Store, ev realtime.Event) error {
	id := ev.RowID()
	if id == "" {
		return errNoRowID
	}
	detail := models.CampaignKey(id)

	switch ev.Type {
	case realtime.EventInsert, realtime.EventUpdate:
		row, err := decodeRow[models.Campaign](ev.New)
		if err != nil {
			return err
		}
		if _, err := store.SetMatching(detail, func(interface{}, bool) (interface{}, error) {
			return row, nil
		}); err != nil {
			return err
		}
		_, err = store.SetMatching(models.CampaignSearchPattern, mergeCampaignList(row, ev.Type))
		return err

	case realtime.EventDelete:
		store.Remove(detail)
		_, err := store.SetMatching(models.CampaignSearchPattern, dropFromCampaignList(id))
		return err
	}
	return fmt.Errorf("unknown event type %q", ev.Type)
}

// mergeCampaignList upserts row into a cached campaign list. An INSERT for a
// row already present (the usual case after the coordinator reconciled the
// optimistic copy) is a no-op, which keeps replays idempotent.
func mergeCampaignList(row models.Campaign, t realtime.EventType) cache.Updater {
	return func(prev interface{}, found bool) (interface{}, error) {
		list, ok := prev.(models.CampaignList)
		if !ok {
			return nil, fmt.Errorf("campaign list entry holds %T", prev)
		}
		next := list.Clone()
		for i, item := range next.Items {
			if item.ID == row.ID {
				next.Items[i] = row
				return next, nil
			}
		}
		if t == realtime.EventInsert {
			next.Items = append([]models.Campaign{row}, next.Items...)
			next.Total++
		}
		return next, nil
	}
}

func dropFromCampaignList(id string) cache.Updater {
	return func(prev interface{}, found bool) (interface{}, error) {
		list, ok := prev.(models.CampaignList)
		if !ok {
			return nil, fmt.Errorf("campaign list entry holds %T", prev)
		}
		next := list.Clone()
		for i, item := range next.Items {
			if item.ID == id {
				next.Items = append(next.Items[:i], next.Items[i+1:]...)
				if next.Total > 0 {
					next.Total--
				}
				break
			}
		}
		return next, nil
	}
}

type commentMerger struct{}

func (commentMerger) Table() string { return models.TableComments }

func (commentMerger) Apply(store *cache.Store, ev realtime.Event) error {
	id := ev.RowID()
	if id == "" {
		return errNoRowID
	}

	switch ev.Type {
	case realtime.EventInsert, realtime.EventUpdate:
		row, err := decodeRow[models.Comment](ev.New)
		if err != nil {
			return err
		}
		if _, err := store.SetMatching(models.CommentKey(id), func(interface{}, bool) (interface{}, error) {
			return row, nil
		}); err != nil {
			return err
		}
		_, err = store.SetMatching(models.CommentListKey(row.CampaignID), mergeCommentList(row, ev.Type))
		return err

	case realtime.EventDelete:
		row, err := decodeRow[models.Comment](ev.Old)
		if err != nil {
			return err
		}
		store.Remove(models.CommentKey(id))
		_, err = store.SetMatching(models.CommentListKey(row.CampaignID), dropFromCommentList(id))
		return err
	}
	return fmt.Errorf("unknown event type %q", ev.Type)
}

func mergeCommentList(row models.Comment, t realtime.EventType) cache.Updater {
	return func(prev interface{}, found bool) (interface{}, error) {
		list, ok := prev.(models.CommentList)
		if !ok {
			return nil, fmt.Errorf("comment list entry holds %T", prev)
		}
		next := list.Clone()
		for i, item := range next.Items {
			if item.ID == row.ID {
				next.Items[i] = row
				return next, nil
			}
		}
		if t == realtime.EventInsert {
			next.Items = append([]models.Comment{row}, next.Items...)
			next.Total++
		}
		return next, nil
	}
}

func dropFromCommentList(id string) cache.Updater {
	return func(prev interface{}, found bool) (interface{}, error) {
		list, ok := prev.(models.CommentList)
		if !ok {
			return nil, fmt.Errorf("comment list entry holds %T", prev)
		}
		next := list.Clone()
		for i, item := range next.Items {
			if item.ID == id {
				next.Items = append(next.Items[:i], next.Items[i+1:]...)
				if next.Total > 0 {
					next.Total--
				}
				break
			}
		}
		return next, nil
	}
}

type wonderMerger struct{}

func (wonderMerger) Table() string { return models.TableWonders }

func (wonderMerger) Apply(store *cache.Store, ev realtime.Event) error {
	id := ev.RowID()
	if id == "" {
		return errNoRowID
	}
	detail := models.WonderKey(id)

	switch ev.Type {
	case realtime.EventInsert, realtime.EventUpdate:
		row, err := decodeRow[models.Wonder](ev.New)
		if err != nil {
			return err
		}
		if _, err := store.SetMatching(detail, func(interface{}, bool) (interface{}, error) {
			return row, nil
		}); err != nil {
			return err
		}
		_, err = store.SetMatching(models.WonderSearchPattern, mergeWonderList(row, ev.Type))
		return err

	case realtime.EventDelete:
		store.Remove(detail)
		_, err := store.SetMatching(models.WonderSearchPattern, dropFromWonderList(id))
		return err
	}
	return fmt.Errorf("unknown event type %q", ev.Type)
}

func mergeWonderList(row models.Wonder, t realtime.EventType) cache.Updater {
	return func(prev interface{}, found bool) (interface{}, error) {
		list, ok := prev.(models.WonderList)
		if !ok {
			return nil, fmt.Errorf("wonder list entry holds %T", prev)
		}
		next := list.Clone()
		for i, item := range next.Items {
			if item.ID == row.ID {
				next.Items[i] = row
				return next, nil
			}
		}
		if t == realtime.EventInsert {
			next.Items = append([]models.Wonder{row}, next.Items...)
			next.Total++
		}
		return next, nil
	}
}

func dropFromWonderList(id string) cache.Updater {
	return func(prev interface{}, found bool) (interface{}, error) {
		list, ok := prev.(models.WonderList)
		if !ok {
			return nil, fmt.Errorf("wonder list entry holds %T", prev)
		}
		next := list.Clone()
		for i, item := range next.Items {
			if item.ID == id {
				next.Items = append(next.Items[:i], next.Items[i+1:]...)
				if next.Total > 0 {
					next.Total--
				}
				break
			}
		}
		return next, nil
	}
}
