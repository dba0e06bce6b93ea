package storage

import (
	"database/sql"
	"encoding/json"

	_ "modernc.org/sqlite"

	"github.com/wildeye/camtriage/internal/models"
)

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		completed_at TIMESTAMP,
		capability TEXT NOT NULL,
		task_name TEXT NOT NULL,
		folder TEXT NOT NULL,
		command TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		exit_code INTEGER,
		pid INTEGER,
		error TEXT,
		artifacts TEXT,
		output_tail TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_capability ON tasks(capability);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Storage) CreateTask(task *models.Task) (int64, error) {
	command, err := json.Marshal(task.Command)
	if err != nil {
		return 0, err
	}

	result, err := s.db.Exec(
		`INSERT INTO tasks (capability, task_name, folder, command, status, pid)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		task.Capability, task.Name, task.Folder, string(command), task.Status, task.PID,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

func (s *Storage) UpdateTask(task *models.Task) error {
	var artifacts *string
	if task.Artifacts != nil {
		data, err := json.Marshal(task.Artifacts)
		if err != nil {
			return err
		}
		str := string(data)
		artifacts = &str
	}

	_, err := s.db.Exec(
		`UPDATE tasks SET completed_at = ?, status = ?, exit_code = ?, pid = ?, error = ?, artifacts = ?, output_tail = ?
		 WHERE id = ?`,
		task.CompletedAt, task.Status, task.ExitCode, task.PID, task.Error, artifacts, task.OutputTail, task.ID,
	)
	return err
}

func (s *Storage) UpdateTaskPID(taskID int64, pid int) error {
	_, err := s.db.Exec(`UPDATE tasks SET pid = ? WHERE id = ?`, pid, taskID)
	return err
}

func (s *Storage) GetTask(id int64) (*models.Task, error) {
	row := s.db.QueryRow(
		`SELECT id, created_at, completed_at, capability, task_name, folder, command, status, exit_code, pid, error, artifacts, output_tail
		 FROM tasks WHERE id = ?`, id,
	)
	return scanTask(row)
}

func (s *Storage) ListTasks(limit int) ([]*models.Task, error) {
	rows, err := s.db.Query(
		`SELECT id, created_at, completed_at, capability, task_name, folder, command, status, exit_code, pid, error, artifacts, output_tail
		 FROM tasks ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*models.Task, error) {
	var task models.Task
	var completedAt sql.NullTime
	var command string
	var exitCode, pid sql.NullInt64
	var errMsg, artifacts, outputTail sql.NullString

	err := row.Scan(
		&task.ID, &task.CreatedAt, &completedAt, &task.Capability, &task.Name,
		&task.Folder, &command, &task.Status, &exitCode, &pid, &errMsg, &artifacts, &outputTail,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		task.ExitCode = &code
	}
	if pid.Valid {
		p := int(pid.Int64)
		task.PID = &p
	}
	if errMsg.Valid {
		task.Error = errMsg.String
	}
	if outputTail.Valid {
		task.OutputTail = outputTail.String
	}
	if err := json.Unmarshal([]byte(command), &task.Command); err != nil {
		task.Command = nil
	}
	if artifacts.Valid {
		if err := json.Unmarshal([]byte(artifacts.String), &task.Artifacts); err != nil {
			task.Artifacts = nil
		}
	}

	return &task, nil
}
