package store

// Location is a row of the locations table.
type Location struct {
	ID          int64
	Latitude    float64
	Longitude   float64
	Accuracy    float64
	Timestamp   int64
	ChatID      ChatID
	FromID      ContactID
	Independent bool
}

// InsertLocation stores a location and returns its id.
func (db *DB) InsertLocation(l *Location) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO locations (latitude, longitude, accuracy, timestamp, chat_id, from_id, independent)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.Latitude, l.Longitude, l.Accuracy, l.Timestamp, l.ChatID, l.FromID, l.Independent)
	if err != nil {
		return 0, err
	}
	l.ID, err = res.LastInsertId()
	return l.ID, err
}

// LocationCount returns the number of stored locations.
func (db *DB) LocationCount() (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM locations`).Scan(&n)
	return n, err
}
