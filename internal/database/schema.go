package database

var schema = []string{
	`CREATE TABLE IF NOT EXISTS rooms (
    id VARCHAR(36) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    description TEXT,
    url TEXT NOT NULL,
    price_inr INT NOT NULL,
    current_users INT NOT NULL DEFAULT 0,
    max_users INT NOT NULL,
    session_date DATE NOT NULL,
    session_start_time TIME NOT NULL,
    session_end_time TIME NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    KEY idx_session_date (session_date)
)`,

	`CREATE TABLE IF NOT EXISTS promo_codes (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    code VARCHAR(64) NOT NULL UNIQUE,
    discount_amount INT NOT NULL,
    max_uses INT NOT NULL DEFAULT 0,
    total_uses INT NOT NULL DEFAULT 0,
    expiry_date TIMESTAMP NULL DEFAULT NULL,
    active TINYINT(1) NOT NULL DEFAULT 1,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`,

	`CREATE TABLE IF NOT EXISTS referrals (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    promo_code_id BIGINT NOT NULL,
    room_id VARCHAR(36) NOT NULL,
    username VARCHAR(255) NOT NULL DEFAULT '',
    payment_id VARCHAR(128) NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_payment (payment_id),
    FOREIGN KEY (promo_code_id) REFERENCES promo_codes(id)
)`,

	`CREATE TABLE IF NOT EXISTS user_sessions (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    username VARCHAR(255) NOT NULL,
    room_id VARCHAR(36) NOT NULL,
    rewards_left INT NOT NULL DEFAULT 60,
    device_id VARCHAR(64) NOT NULL DEFAULT '',
    last_updated TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    promo_code_used VARCHAR(64) NOT NULL DEFAULT '',
    payment_id VARCHAR(128) NOT NULL DEFAULT '',
    payment_verified TINYINT(1) NOT NULL DEFAULT 0,
    payment_failed TINYINT(1) NOT NULL DEFAULT 0,
    payment_failed_reason TEXT,
    payment_refunded TINYINT(1) NOT NULL DEFAULT 0,
    refund_amount DECIMAL(10,2) NOT NULL DEFAULT 0,
    refund_id VARCHAR(128) NOT NULL DEFAULT '',
    refunded_at TIMESTAMP NULL DEFAULT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uniq_user_room (username, room_id),
    KEY idx_payment (payment_id)
)`,

	`CREATE TABLE IF NOT EXISTS payment_logs (
    id BIGINT AUTO_INCREMENT PRIMARY KEY,
    payment_id VARCHAR(128) NOT NULL,
    event VARCHAR(64) NOT NULL,
    payload MEDIUMTEXT,
    processed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    KEY idx_payment (payment_id)
)`,
}
