package database

var schema = []string{`
CREATE TABLE IF NOT EXISTS accounts (
    user_id BIGINT NOT NULL PRIMARY KEY,
    username VARCHAR(255),
    first_name VARCHAR(255),
    last_name VARCHAR(255),
    balance DECIMAL(14,2) NOT NULL DEFAULT 0,
    total_queries INT NOT NULL DEFAULT 0,
    join_date DATETIME(6) NOT NULL,
    last_activity DATETIME(6) NOT NULL,
    query_history MEDIUMTEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
)`, `
CREATE TABLE IF NOT EXISTS services (
    id BIGINT NOT NULL PRIMARY KEY,
    title VARCHAR(255) NOT NULL,
    price DECIMAL(14,2) NOT NULL,
    category VARCHAR(64) NOT NULL,
    position INT NOT NULL DEFAULT 0,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`,
}
