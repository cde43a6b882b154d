package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog/log"

	"github.com/storekit/support-go/internal/ticketstore"
)

// customerLookup resolves a sender address to a known customer account.
type customerLookup interface {
	ByEmail(ctx context.Context, email string) (id int64, name string, ok bool)
}

// ticketRefRe matches the thread reference replies carry in the subject.
var ticketRefRe = regexp.MustCompile(`\[TKT-(\d+)\]`)

// pollIMAP fetches unseen messages, archives the raw mail in the object
// store and feeds each into the ticket store. Processed mail is flagged
// seen so the next poll skips it.
func pollIMAP(ctx context.Context, c Config, store ticketstore.Store, users customerLookup, mc *minio.Client) error {
	if c.MinIOBucket != "" && mc == nil {
		return fmt.Errorf("MinIO client is nil")
	}
	addr := fmt.Sprintf("%s:993", c.IMAPHost)
	cli, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return err
	}
	defer cli.Logout()

	if err := cli.Login(c.IMAPUser, c.IMAPPass); err != nil {
		return err
	}

	mbox, err := cli.Select(c.IMAPFolder, false)
	if err != nil {
		return err
	}
	if mbox.Messages == 0 {
		return nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := cli.Search(criteria)
	if err != nil || len(uids) == 0 {
		return err
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{}
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- cli.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}, messages)
	}()

	for msg := range messages {
		if msg == nil {
			continue
		}
		r := msg.GetBody(section)
		if r == nil {
			continue
		}
		raw, err := io.ReadAll(r)
		if err != nil {
			log.Error().Err(err).Msg("read body")
			continue
		}

		if c.MinIOBucket != "" {
			key := fmt.Sprintf("email/%s.eml", uuid.NewString())
			if _, err := mc.PutObject(ctx, c.MinIOBucket, key, bytes.NewReader(raw), int64(len(raw)), minio.PutObjectOptions{}); err != nil {
				log.Error().Err(err).Msg("archive raw mail")
			}
		}

		if err := handleInbound(ctx, store, users, raw); err != nil {
			log.Error().Err(err).Msg("handle inbound mail")
			continue
		}

		seq := new(imap.SeqSet)
		seq.AddNum(msg.SeqNum)
		if err := cli.Store(seq, imap.AddFlags, []interface{}{imap.SeenFlag}, nil); err != nil {
			log.Error().Err(err).Msg("store flags")
		}
	}
	return <-done
}

// handleInbound parses one raw mail. A subject carrying [TKT-n] appends
// to that ticket's thread; anything else from a known customer opens a
// new ticket. Mail from unknown senders is dropped after logging: the
// storefront has no walk-in signup path over email.
func handleInbound(ctx context.Context, store ticketstore.Store, users customerLookup, raw []byte) error {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("parse message: %w", err)
	}
	subject, _ := mr.Header.Subject()
	subject = sanitizeEmailHeader(subject)

	fromAddr := ""
	fromName := ""
	if addrs, err := mr.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		fromAddr = addrs[0].Address
		fromName = addrs[0].Name
	}
	if fromAddr == "" {
		return fmt.Errorf("message has no From address")
	}

	body := readTextBody(mr)
	content := strings.TrimSpace(sanitizeEmailBody([]byte(body)))
	if content == "" {
		content = subject
	}

	if m := ticketRefRe.FindStringSubmatch(subject); len(m) == 2 {
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			t, err := store.ByID(ctx, id)
			if err != nil {
				return err
			}
			if t != nil {
				sender := fromName
				if sender == "" {
					sender = t.CustomerName
				}
				_, err := store.AddMessage(ctx, ticketstore.NewMessage{
					TicketID:       id,
					Message:        content,
					IsFromCustomer: true,
					SenderName:     sender,
					SenderEmail:    fromAddr,
				})
				return err
			}
			// Referenced ticket is gone; fall through and open a new one.
		}
	}

	cid, name, ok := users.ByEmail(ctx, fromAddr)
	if !ok {
		log.Warn().Str("from", fromAddr).Msg("mail from unknown sender dropped")
		return nil
	}
	if fromName != "" {
		name = fromName
	}
	title := subject
	if title == "" {
		title = "Support request from " + fromAddr
	}
	_, err = store.Create(ctx, ticketstore.NewTicket{
		Title:         title,
		Description:   content,
		CustomerEmail: fromAddr,
		CustomerName:  name,
		CustomerID:    &cid,
	})
	return err
}

// readTextBody returns the first inline text part of the message.
func readTextBody(mr *mail.Reader) string {
	for {
		p, err := mr.NextPart()
		if err != nil {
			return ""
		}
		if _, ok := p.Header.(*mail.InlineHeader); ok {
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return ""
			}
			return string(b)
		}
	}
}
