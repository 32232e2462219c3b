package relayclient

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/Tyrowin/lanrelay/internal/ids"
	"github.com/Tyrowin/lanrelay/internal/protocol"
	"github.com/Tyrowin/lanrelay/internal/transfer"
)

// SendFile sends data as a chunked transfer to target, or to every other
// member of the current room when target is empty. It returns the transfer
// id once the final message is written.
//
// Chunks are paced by Options.ChunkRate so that the relay neither rate
// limits the sender nor overflows a receiver's send buffer. If ctx ends
// between chunks the transfer is cancelled. A chunk that
// cannot be written within Options.ChunkTimeout fails with ErrChunkTimeout
// and closes the connection, which makes the relay cancel the transfer for
// the receivers.
func (c *Client) SendFile(ctx context.Context, target, fileName string, data []byte) (string, error) {
	id := ids.NewTransferID()
	size := c.opts.ChunkSize
	total := max(1, (len(data)+size-1)/size)

	start := &protocol.FileTransferStart{
		FileName:    fileName,
		FileSize:    int64(len(data)),
		TotalChunks: total,
		Checksum:    transfer.Checksum(data),
	}
	start.TransferID = id
	start.TargetClient = target
	if err := c.Send(ctx, start); err != nil {
		return id, err
	}
	c.logger.Info("sending file", "transfer_id", id, "file_name", fileName, "bytes", len(data), "chunks", total, "target", target)

	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			c.cancelSend(id, target, "sender cancelled")
			return id, err
		}
		if err := c.pacer.Wait(ctx); err != nil {
			c.cancelSend(id, target, "sender cancelled")
			return id, err
		}

		lo := i * size
		hi := min(lo+size, len(data))
		chunk := &protocol.FileChunk{ChunkIndex: i, Chunk: data[lo:hi], IsLast: i == total-1}
		chunk.TransferID = id
		chunk.TargetClient = target

		if err := c.write(ctx, chunk, c.opts.ChunkTimeout); err != nil {
			switch {
			case ctx.Err() != nil:
				c.shutdown(fmt.Errorf("%w: %v", ErrClosed, ctx.Err()))
				return id, ctx.Err()
			case isTimeout(err):
				err = fmt.Errorf("%w: chunk %d of %s", ErrChunkTimeout, i, id)
				c.shutdown(err)
				return id, err
			default:
				return id, err
			}
		}
	}

	complete := &protocol.FileComplete{}
	complete.TransferID = id
	complete.TargetClient = target
	if err := c.Send(ctx, complete); err != nil {
		return id, err
	}
	return id, nil
}

func (c *Client) cancelSend(id, target, reason string) {
	cancel := &protocol.FileTransferCancel{Reason: reason}
	cancel.TransferID = id
	cancel.TargetClient = target
	if err := c.Send(context.Background(), cancel); err != nil {
		c.logger.Debug("sending transfer cancel", "transfer_id", id, "error", err)
	}
}

// beginReceive opens a reassembly session for an announced transfer, or
// tells the sender it was refused.
func (c *Client) beginReceive(m *protocol.FileTransferStart) {
	err := c.files.Begin(transfer.Start{
		TransferID:  m.TransferID,
		FileName:    m.FileName,
		FileSize:    m.FileSize,
		TotalChunks: m.TotalChunks,
		Checksum:    m.Checksum,
		Sender:      m.From,
		Receiver:    c.ID(),
	})
	if err == nil {
		return
	}

	c.logger.Warn("refusing incoming transfer", "transfer_id", m.TransferID, "from", m.From, "error", err)
	if errors.Is(err, transfer.ErrDuplicateTransfer) {
		return
	}
	c.cancelSend(m.TransferID, m.From, err.Error())
}

// Incoming reports the progress of an incoming transfer.
func (c *Client) Incoming(transferID string) (transfer.Progress, bool) {
	return c.files.Active(transferID)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
