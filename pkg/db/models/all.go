package models

// All lists every persisted model, in dependency order.
func All() []any {
	return []any{
		&User{},
		&Student{},
		&Book{},
		&Transaction{},
		&TransactionItem{},
		&AdminLog{},
		&SystemSettings{},
	}
}
