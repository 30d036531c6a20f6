package reader

import (
	"context"

	"github.com/wharfdb/wharf/internal/apierr"
	"github.com/wharfdb/wharf/internal/record"
	"github.com/wharfdb/wharf/internal/streamer"
)

// TailEvent is one item yielded by TailFrom: either a durable/live record or
// a terminal error (the stream ended or the caller's context was canceled).
type TailEvent struct {
	Record record.Record
	Err    error
}

// TailFrom streams every record from startSeq onward, first via a durable
// scan up to the Streamer's resolved tail, then by attaching to its
// broadcast. On Lagged it resumes the durable scan from the last observed
// seq_num+1 and re-attaches, guaranteeing at-most-once delivery per seq_num
// and no gaps. The returned channel is closed when ctx is canceled or the
// Streamer shuts down.
func (r *Reader) TailFrom(ctx context.Context, startSeq uint64, live streamer.Handle) <-chan TailEvent {
	out := make(chan TailEvent)
	go r.runTail(ctx, startSeq, live, out)
	return out
}

func (r *Reader) runTail(ctx context.Context, startSeq uint64, live streamer.Handle, out chan<- TailEvent) {
	defer close(out)

	next := startSeq
	for {
		// Subscribe and read the durable tail as one atomic step: any batch
		// committed before this call is reflected in tail.NextSeqNum and
		// found by the catch-up scan below, and any batch committed after is
		// delivered on sub. There is no window between "resolve tail" and
		// "register subscription" in which a batch could be published to
		// neither, which is what a separate CheckTail-then-Subscribe call
		// pair would allow.
		sub, tail, err := live.SubscribeFrom()
		if err != nil {
			r.emit(ctx, out, TailEvent{Err: err})
			return
		}

		if next < tail.NextSeqNum {
			recs, err := r.ReadFromSeq(ctx, next, Options{Limit: 0})
			if err != nil {
				sub.Unsubscribe()
				r.emit(ctx, out, TailEvent{Err: err})
				return
			}
			for _, rec := range recs {
				if !r.emit(ctx, out, TailEvent{Record: rec}) {
					sub.Unsubscribe()
					return
				}
				next = rec.SeqNum + 1
			}
		}

		for {
			published, lagged, open := sub.Recv()
			if !open {
				sub.Unsubscribe()
				return
			}
			if lagged {
				// Fell behind the broadcast buffer: resume via durable scan
				// from the last observed position and re-attach.
				sub.Unsubscribe()
				break
			}
			for _, rec := range published.Records {
				if rec.SeqNum < next {
					continue // already delivered via the durable catch-up scan
				}
				if !r.emit(ctx, out, TailEvent{Record: rec}) {
					sub.Unsubscribe()
					return
				}
				next = rec.SeqNum + 1
			}
		}
	}
}

// emit sends ev on out, honoring ctx cancellation. Returns false if the
// caller should stop (context canceled).
func (r *Reader) emit(ctx context.Context, out chan<- TailEvent, ev TailEvent) bool {
	select {
	case out <- ev:
		return ev.Err == nil
	case <-ctx.Done():
		select {
		case out <- TailEvent{Err: apierr.Wrap(apierr.KindUnavailable, "tail canceled", ctx.Err())}:
		default:
		}
		return false
	}
}
