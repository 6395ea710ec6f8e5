package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/sakif/pairshot/internal/apperror"
	"github.com/sakif/pairshot/internal/mailer"
	"github.com/sakif/pairshot/internal/metrics"
	"github.com/sakif/pairshot/internal/model"
)

const (
	subjectNewPhoto  = "New photo in your discussion"
	subjectCompleted = "Your discussion is completed !!"

	msgPenfriendNotMailed = "There was an error to contact your penfriend, but your picture has been uploaded"
)

// discussionThumbSize bounds discussion thumbnails on both sides.
const discussionThumbSize = 600

// DiscussionUpload is one turn of a discussion: a picture plus the flags the
// uploader sets.
type DiscussionUpload struct {
	File         *UploadedFile
	DiscussionID string
	// UserID is the photographer whose turn it is.
	UserID    string
	Completed bool
	Cancelled bool
	Continued bool
}

// UploadDiscussion stores the picture of the photographer whose turn it is,
// hands the turn to the other photographer and mails them.
//
// The discussion is written with a compare-and-swap on its revision, so two
// concurrent uploads for the same turn cannot both land; the loser's file is
// deleted. A mail failure leaves the write in place and returns an
// apperror.Warning.
func (s *CollectionsService) UploadDiscussion(ctx context.Context, actor *model.Actor, in DiscussionUpload) (model.Document, error) {
	if in.File == nil || in.File.Content == nil {
		return nil, apperror.ValidationFailed("file", "Your request to upload is not valid")
	}
	if in.DiscussionID == "" || in.UserID == "" {
		return nil, apperror.ValidationFailed("_id", "Missing id")
	}

	discussion, err := s.deps.Store.FindOne(ctx, model.DiscussionsCollection, map[string]any{model.KeyID: in.DiscussionID})
	if err != nil {
		return nil, storeError("loading discussion", err)
	}
	if discussion == nil {
		return nil, apperror.NotFoundMessage("Sorry, we can't find your discussion.")
	}
	if discussion.Bool("completed") {
		return nil, apperror.ValidationFailed("completed", "Sorry, the discussion is already completed")
	}
	if turn := model.LinkFromDocument(discussion.Map("turn")); turn == nil || turn.ID != in.UserID {
		return nil, apperror.ValidationFailed("_userid", "Sorry it's not your turn yet")
	}

	uploader, err := s.deps.Store.FindOne(ctx, model.PhotographersCollection, map[string]any{model.KeyID: in.UserID})
	if err != nil {
		return nil, storeError("loading photographer", err)
	}
	if actor != nil && (uploader == nil || !s.deps.ownsPhotographer(actor, uploader)) {
		return nil, apperror.Unauthorized("Unauthorized")
	}

	next, err := s.nextAuthor(ctx, discussion, in.UserID)
	if err != nil {
		return nil, err
	}

	slug := discussion.String("name_slug")
	if slug = Slugify(slug); slug == "" {
		slug = discussion.ID()
	}
	stored, err := s.deps.storeImage(ctx, "discussions/_"+slug, "discussions/"+slug, in.File, discussionThumbSize)
	metrics.RecordUpload("discussion", err)
	if err != nil {
		return nil, err
	}

	now := s.deps.now()
	discussion["uploads"] = append(discussion.Slice("uploads"), model.Upload{
		Original: stored.original,
		Thumb:    stored.thumb,
		Width:    stored.width,
		Time:     now.Unix(),
	}.Document())
	discussion["cancelled"] = in.Cancelled
	discussion["continued"] = in.Continued
	discussion["completed"] = in.Completed
	discussion["turn"] = model.Link{
		ID:      next.ID(),
		Display: next.String("name"),
		Link:    model.PhotographersCollection,
	}.Document()

	saved, err := s.deps.Store.SaveIfCurrent(ctx, model.DiscussionsCollection, discussion)
	if err != nil {
		s.deps.removeFiles(stored.original, stored.thumb)
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.ConflictMessage("Sorry, the discussion changed while you were uploading. Please try again.")
		}
		return nil, storeError("saving discussion", err)
	}
	s.logger.Info("discussion picture uploaded",
		slog.String("discussion", saved.ID()),
		slog.String("by", in.UserID),
		slog.Bool("completed", in.Completed),
	)

	template, subject := mailer.TemplateDiscussionNewPhoto, subjectNewPhoto
	if in.Completed {
		template, subject = mailer.TemplateDiscussionComplete, subjectCompleted
	}
	img := s.imageURL(stored.original)
	if err := s.deps.sendMail(ctx, template, next.String("email"), subject, mailer.Vars{
		"server": s.settings.PublicURL,
		"name":   next.String("name"),
		"img":    img,
		"final":  img,
		"date":   now.Format("January 2, 2006"),
	}); err != nil {
		return saved, apperror.Warning(msgPenfriendNotMailed)
	}
	return saved, nil
}

// nextAuthor loads the other photographer linked to the discussion.
func (s *CollectionsService) nextAuthor(ctx context.Context, discussion model.Document, current string) (model.Document, error) {
	for _, p := range discussion.Maps("photographers") {
		link := model.LinkFromDocument(p)
		if link == nil || link.ID == current {
			continue
		}
		next, err := s.deps.Store.FindOne(ctx, model.PhotographersCollection, map[string]any{model.KeyID: link.ID})
		if err != nil {
			return nil, storeError("loading photographer", err)
		}
		if next != nil {
			return next, nil
		}
	}
	return nil, apperror.NotFoundMessage("Sorry, we can't find your penfriend.")
}

// imageURL is the absolute link to a stored file for mails.
func (s *CollectionsService) imageURL(publicPath string) string {
	host := strings.TrimRight(s.settings.APIHost, "/")
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return host + publicPath
}
