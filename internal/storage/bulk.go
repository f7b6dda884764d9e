package storage

import "github.com/jackc/pgx/v4"

type participantRow struct {
	conversationID, userID int64
}

type participantBulk struct {
	rows []participantRow
	idx  int
}

func (pr participantRow) toInterface() []interface{} {
	return []interface{}{pr.conversationID, pr.userID}
}

func copyFromBulk(rows []participantRow) pgx.CopyFromSource {
	return &participantBulk{
		rows: rows,
		idx:  -1,
	}
}

func (pb *participantBulk) Next() bool {
	pb.idx++
	return pb.idx < len(pb.rows)
}

func (pb *participantBulk) Values() ([]interface{}, error) {
	return pb.rows[pb.idx].toInterface(), nil
}

func (pb *participantBulk) Err() error {
	return nil
}
