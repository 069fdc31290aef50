package ledger

import (
	"context"
	stdErrors "errors"
	"log/slog"

	"AgentGov-Core/pkg/logger"
)

// RecoverPending 在进程启动时把已批准但尚未执行的提案重新投递到队列。
// 进程在批准与执行之间崩溃时，账本是唯一可信的事实来源。
func RecoverPending(ctx context.Context, store Store, producer Producer) (int, error) {
	if store == nil || producer == nil {
		return 0, nil
	}
	requeued := 0
	offset := 0
	for {
		proposals, err := store.ListProposals(ctx, ListOptions{
			Statuses: []Status{StatusApproved},
			Order:    SortByCreatedAsc,
			Limit:    100,
			Offset:   offset,
		})
		if err != nil {
			return requeued, err
		}
		if len(proposals) == 0 {
			return requeued, nil
		}
		for _, proposal := range proposals {
			_, err := store.GetExecutionByProposal(ctx, proposal.ID)
			if err == nil {
				continue
			}
			if !stdErrors.Is(err, ErrProposalNotFound) {
				return requeued, err
			}
			if err := producer.Publish(ctx, proposal.ID); err != nil {
				return requeued, err
			}
			logger.L().Info("恢复未执行的提案",
				slog.String("proposal_id", proposal.ID),
				slog.String("action", proposal.ActionName),
			)
			requeued++
		}
		offset += len(proposals)
	}
}
